// Package quota enforces the per-identity request budget.
//
// The default commit path is the two-round-trip soft limit: ReserveOrInit
// reads the counter and Consume writes observed-1. Two concurrent requests
// can both observe the same value and together exceed the budget by one.
// Setting Options.AtomicDecrement replaces the write with a conditional
// single-statement decrement.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
)

const (
	DefaultUserQuota = 4
	DefaultIPQuota   = 3
)

var ErrExhausted = errors.New("no more requests left")

type Options struct {
	UserDefault     int
	IPDefault       int
	AtomicDecrement bool
}

type Ledger struct {
	store Store
	opts  Options
}

func NewLedger(store Store, opts Options) *Ledger {
	if opts.UserDefault <= 0 {
		opts.UserDefault = DefaultUserQuota
	}
	if opts.IPDefault <= 0 {
		opts.IPDefault = DefaultIPQuota
	}
	return &Ledger{store: store, opts: opts}
}

// Atomic reports whether Consume uses the conditional decrement.
func (l *Ledger) Atomic() bool { return l.opts.AtomicDecrement }

func (l *Ledger) defaultFor(id identity.Identity) int {
	if id.Kind == identity.KindUser {
		return l.opts.UserDefault
	}
	return l.opts.IPDefault
}

// Remaining returns the counter; found is false for an unseen identity.
func (l *Ledger) Remaining(ctx context.Context, id identity.Identity) (n int, found bool, err error) {
	if err := id.Validate(); err != nil {
		return 0, false, err
	}
	return l.store.GetCount(ctx, id)
}

// ReserveOrInit returns the current budget without spending it. An unseen
// identity starts at its class default; a zero counter is ErrExhausted.
func (l *Ledger) ReserveOrInit(ctx context.Context, id identity.Identity) (int, error) {
	n, found, err := l.Remaining(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		n, err = l.store.Insert(ctx, id, l.defaultFor(id))
		if err != nil {
			return 0, err
		}
		log.Debug().Str("identity_kind", string(id.Kind)).Int("remaining", n).Msg("quota counter created")
	}
	if n <= 0 {
		return 0, ErrExhausted
	}
	return n, nil
}

// Commit sets the counter to newRemaining. Updating zero rows returns false.
func (l *Ledger) Commit(ctx context.Context, id identity.Identity, newRemaining int) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if newRemaining < 0 {
		newRemaining = 0
	}
	ok, err := l.store.SetCount(ctx, id, newRemaining)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn().Str("identity_kind", string(id.Kind)).Msg("quota commit matched no counter")
	}
	return ok, nil
}

// Consume spends one unit after a successful execution that observed
// `observed` remaining at reservation time.
func (l *Ledger) Consume(ctx context.Context, id identity.Identity, observed int) (bool, error) {
	if !l.opts.AtomicDecrement {
		return l.Commit(ctx, id, observed-1)
	}
	if err := id.Validate(); err != nil {
		return false, err
	}
	ok, err := l.store.DecrementIfPositive(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn().Str("identity_kind", string(id.Kind)).Msg("quota decrement matched no positive counter")
	}
	return ok, nil
}

// Replenish is the administrative top-up; it creates the counter if needed.
func (l *Ledger) Replenish(ctx context.Context, id identity.Identity, n int) error {
	if n < 0 {
		return fmt.Errorf("quota: negative count %d", n)
	}
	if err := id.Validate(); err != nil {
		return err
	}
	if _, err := l.store.Insert(ctx, id, n); err != nil {
		return err
	}
	_, err := l.store.SetCount(ctx, id, n)
	return err
}
