package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/ai"
)

const DefaultSystemPrompt = "You are a helpful assistant."

// ValidationError means a step's reply did not contain its expected answer.
type ValidationError struct {
	Chain      string
	Step       int
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chain %s step %d: %s", e.Chain, e.Step, e.Message)
}

// Model is the call path into the language model; *ai.Gateway satisfies it.
type Model interface {
	Call(ctx context.Context, messages []ai.Message) (string, []ai.Message, error)
}

type Evaluator struct {
	model        Model
	systemPrompt string
}

func NewEvaluator(model Model, systemPrompt string) *Evaluator {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Evaluator{model: model, systemPrompt: systemPrompt}
}

// Run executes the steps of c in order and returns the last reply. All
// placeholders are checked against vars before the first model call.
func (e *Evaluator) Run(ctx context.Context, c Chain, vars map[string]string) (string, error) {
	if c.Len() == 0 {
		return "", fmt.Errorf("%s: %w", c.Name(), ErrEmptyChain)
	}
	if err := checkVariables(c, vars); err != nil {
		return "", err
	}

	var (
		history  []ai.Message
		response string
	)
	for i, step := range c.steps {
		prompt, err := render(step.Template, vars)
		if err != nil {
			return "", &TemplateError{Step: i, Reason: err.Error()}
		}

		var messages []ai.Message
		if step.RequiresHistory && len(history) > 0 {
			messages = append(messages, history...)
		} else {
			messages = []ai.Message{{Role: ai.RoleSystem, Content: e.systemPrompt}}
		}
		messages = append(messages, ai.Message{Role: ai.RoleUser, Content: prompt})

		log.Debug().Str("chain", c.Name()).Int("step", i).Bool("history", step.RequiresHistory).
			Int("messages", len(messages)).Msg("executing prompt step")

		response, history, err = e.model.Call(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("chain %s step %d: %w", c.Name(), i, err)
		}

		if step.ExpectedSubstring == "" {
			continue
		}
		if !strings.Contains(response, step.ExpectedSubstring) {
			log.Warn().Str("chain", c.Name()).Int("step", i).Str("expected", step.ExpectedSubstring).
				Msg("expected answer not found in response")
			return "", &ValidationError{
				Chain:      c.Name(),
				Step:       i,
				StatusCode: step.Failure.StatusCode,
				Message:    step.Failure.Message,
			}
		}
	}
	return response, nil
}
