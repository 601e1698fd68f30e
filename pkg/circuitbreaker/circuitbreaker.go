// Package circuitbreaker protects outbound calls to the payment gateway from
// cascading failures.
//
// States:
//   - Closed: normal operation, calls pass through
//   - Open: the gateway is considered down, calls fail immediately
//   - Half-Open: a trial period, a limited number of calls are let through to
//     probe recovery
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fluxpay/engine/pkg/logger"
)

// Settings configures a Breaker's trip behavior.
type Settings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultSettings returns settings tuned for a single downstream HTTP dependency.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker wraps gobreaker with FluxPay's logging conventions.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New creates a Breaker with DefaultSettings.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings creates a Breaker with custom settings.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("circuit breaker open — downstream considered down")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("circuit breaker half-open — probing recovery")
			case gobreaker.StateClosed:
				log.Info().Msg("circuit breaker closed — downstream recovered")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// FailureClassifier decides whether an error returned by a wrapped call should
// count as a circuit-breaker failure. Business errors (e.g. a declined payment)
// should return false so they don't trip the breaker.
type FailureClassifier func(error) bool

// Execute runs fn through the breaker. If the breaker is open, it returns
// ErrOpenState (or ErrTooManyRequests in half-open) without calling fn. Errors
// for which classify returns false are passed through but do not count as
// breaker failures.
func Execute[T any](ctx context.Context, b *Breaker, classify FailureClassifier, fn func(ctx context.Context) (T, error)) (T, error) {
	var callErr error

	result, cbErr := b.cb.Execute(func() (any, error) {
		value, err := fn(ctx)
		callErr = err
		if err != nil && classify != nil && !classify(err) {
			// Business error: report success to the breaker but still return it.
			return value, nil
		}
		return value, err
	})

	if cbErr == gobreaker.ErrOpenState || cbErr == gobreaker.ErrTooManyRequests {
		var zero T
		return zero, cbErr
	}

	if callErr != nil {
		var zero T
		return zero, callErr
	}

	out, _ := result.(T)
	return out, nil
}
