package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent fully serializes model calls.
const DefaultMaxConcurrent = 1

// ModelCallError is returned when the provider call fails. It is never
// retried by the gateway.
type ModelCallError struct {
	Provider string
	Text     string
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed (%s): %s", e.Provider, e.Text)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// Gateway is the single admission-gated path to the language model. One
// instance is built at process start and shared by every chain run.
type Gateway struct {
	provider Provider
	name     string

	initMu sync.Mutex
	adm    atomic.Pointer[admission]
}

type admission struct {
	sem   *semaphore.Weighted
	limit int
}

func NewGateway(name string, provider Provider) *Gateway {
	return &Gateway{provider: provider, name: name}
}

// Init sets the admission limit. The first call wins; later calls are
// no-ops so the bound cannot change mid-run.
func (g *Gateway) Init(maxConcurrent int) {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if a := g.adm.Load(); a != nil {
		if maxConcurrent != a.limit {
			log.Warn().Int("requested", maxConcurrent).Int("limit", a.limit).Msg("model gateway already initialized, ignoring new limit")
		}
		return
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	g.adm.Store(&admission{sem: semaphore.NewWeighted(int64(maxConcurrent)), limit: maxConcurrent})
	log.Info().Str("provider", g.name).Int("max_concurrent", maxConcurrent).Msg("model gateway initialized")
}

// Limit reports the admission bound, initializing with the default if needed.
func (g *Gateway) Limit() int {
	return g.gate().limit
}

// gate takes the lock only while the gateway is still uninitialized.
func (g *Gateway) gate() *admission {
	if a := g.adm.Load(); a != nil {
		return a
	}
	g.Init(DefaultMaxConcurrent)
	return g.adm.Load()
}

// Call sends messages to the provider once a slot is free. On success the
// returned history is a copy of messages with the assistant reply appended.
func (g *Gateway) Call(ctx context.Context, messages []Message) (string, []Message, error) {
	adm := g.gate()
	if g.provider == nil {
		return "", nil, &ModelCallError{Provider: g.name, Text: "no provider configured"}
	}

	if err := adm.sem.Acquire(ctx, 1); err != nil {
		return "", nil, err
	}
	defer adm.sem.Release(1)

	in := append([]Message(nil), messages...)
	reply, err := g.provider.Chat(ctx, in)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", nil, err
		}
		log.Debug().Err(err).Str("provider", g.name).Msg("model call failed")
		return "", nil, &ModelCallError{Provider: g.name, Text: err.Error(), Err: err}
	}

	history := append(in, Message{Role: RoleAssistant, Content: reply})
	return reply, history, nil
}
