package chain

import (
	"errors"
	"fmt"
)

// FailureInfo is surfaced verbatim to the caller when a step's assertion fails.
type FailureInfo struct {
	StatusCode int    `yaml:"status_code" json:"status_code"`
	Message    string `yaml:"message" json:"message"`
}

// Step is one prompt in a chain.
type Step struct {
	Template        string
	RequiresHistory bool
	// ExpectedSubstring, when non-empty, must occur verbatim in the reply.
	ExpectedSubstring string
	Failure           *FailureInfo
}

// Chain is an immutable, ordered list of steps.
type Chain struct {
	name  string
	steps []Step
}

var (
	ErrEmptyChain     = errors.New("chain: no steps")
	ErrMissingFailure = errors.New("chain: step with expected answer has no error message")
)

// New validates steps and returns a chain that owns a private copy of them.
func New(name string, steps []Step) (Chain, error) {
	if len(steps) == 0 {
		return Chain{}, fmt.Errorf("%s: %w", name, ErrEmptyChain)
	}
	for i, s := range steps {
		if s.ExpectedSubstring != "" && s.Failure == nil {
			return Chain{}, fmt.Errorf("%s step %d: %w", name, i, ErrMissingFailure)
		}
		if _, err := placeholders(s.Template); err != nil {
			return Chain{}, fmt.Errorf("%s step %d: %w", name, i, err)
		}
	}
	return Chain{name: name, steps: append([]Step(nil), steps...)}, nil
}

func (c Chain) Name() string { return c.name }

func (c Chain) Len() int { return len(c.steps) }

// Step returns the i-th step.
func (c Chain) Step(i int) Step { return c.steps[i] }

// Steps returns a copy of the ordered steps.
func (c Chain) Steps() []Step { return append([]Step(nil), c.steps...) }
