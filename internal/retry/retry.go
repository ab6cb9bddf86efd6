// Package retry re-invokes an operation on transient failure with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/config"
	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/scope"
)

var (
	// ErrExhausted is matched by every *ExhaustedError.
	ErrExhausted = errors.New("retries exhausted")

	// ErrInvalidPolicy is returned for a policy with MaxAttempts < 1.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// Classifier reports whether err is transient (eligible for retry).
type Classifier func(err error) bool

// Policy bounds and paces retries.
type Policy struct {
	// Name identifies the operation in logs.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the fixed wait before every attempt after the first.
	BaseDelay time.Duration

	// Classify decides which failures are retried. Defaults to database.IsTransient.
	Classify Classifier

	// Observe, if set, is called after every attempt.
	Observe func(Attempt)
}

// FromOptions builds a policy from configured options.
func FromOptions(name string, opts config.Options) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   opts.BaseDelay,
	}
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts transient
// failures have occurred.
//
// The first attempt runs immediately; every later attempt waits BaseDelay.
// A permanent failure is returned unchanged. Exhaustion returns an
// *ExhaustedError wrapping the last failure. Cancellation while waiting
// returns a *CanceledError and no further attempt is made.
//
// op must be safe to re-invoke: effects of a failed attempt are not undone
// here. Running op inside scope.WithTransaction gives that for store writes.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}

	classify := p.Classify
	if classify == nil {
		classify = database.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = p.BaseDelay
			if err := wait(ctx, delay); err != nil {
				return zero, &CanceledError{Attempts: attempt - 1, Err: err, Last: lastErr}
			}
		}

		value, err := op(ctx)
		if err == nil {
			p.observe(Attempt{Index: attempt, Delay: delay, Outcome: Success})
			return value, nil
		}
		lastErr = err

		if !classify(err) {
			p.observe(Attempt{Index: attempt, Delay: delay, Outcome: PermanentFailure, Err: err})
			log.Debug().
				Err(err).
				Str("operation", p.Name).
				Int("attempt", attempt).
				Msg("Operation failed permanently; not retrying")
			return zero, err
		}
		p.observe(Attempt{Index: attempt, Delay: delay, Outcome: TransientFailure, Err: err})

		if ctx.Err() != nil {
			return zero, &CanceledError{Attempts: attempt, Err: ctx.Err(), Last: err}
		}

		if attempt < p.MaxAttempts {
			log.Warn().
				Err(err).
				Str("operation", p.Name).
				Int("attempt", attempt).
				Int("max_attempts", p.MaxAttempts).
				Dur("backoff", p.BaseDelay).
				Msg("Operation failed; retrying")
		}
	}

	log.Warn().
		Err(lastErr).
		Str("operation", p.Name).
		Int("attempts", p.MaxAttempts).
		Msg("Operation failed; retries exhausted")
	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

// Wrap returns op decorated with the policy.
func Wrap[T any](p Policy, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op)
	}
}

// WithTransaction retries a whole transaction: every attempt opens its own
// session and transaction, so a failed attempt is rolled back before the
// next one starts.
func WithTransaction[T any](ctx context.Context, p Policy, drv database.Driver, op scope.UnitOfWork[T]) (T, error) {
	return Do(ctx, p, func(ctx context.Context) (T, error) {
		return scope.WithTransaction(ctx, drv, op)
	})
}

// WithConnection retries op on a fresh session per attempt, without a transaction.
func WithConnection[T any](ctx context.Context, p Policy, drv database.Driver, op scope.UnitOfWork[T]) (T, error) {
	return Do(ctx, p, func(ctx context.Context) (T, error) {
		return scope.WithConnection(ctx, drv, op)
	})
}

func (p Policy) observe(a Attempt) {
	if p.Observe != nil {
		p.Observe(a)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
