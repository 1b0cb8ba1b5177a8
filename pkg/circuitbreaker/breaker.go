// Package circuitbreaker wraps gobreaker for calls to external stores.
// Context cancellation is not held against the store, and a rejected call
// comes back as SERVICE_UNAVAILABLE so callers can take their fallback.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"hush/internal/config"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultInterval     = time.Minute
	defaultTimeout      = 30 * time.Second
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

// StateDisabled is what State reports for a breaker that was not enabled.
const StateDisabled = "disabled"

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New returns nil when cfg is disabled; a nil Breaker passes calls through.
func New(name string, cfg config.CircuitBreakerConfig) *Breaker {
	if !cfg.Enabled {
		return nil
	}
	cb := gobreaker.NewCircuitBreaker(settings(name, cfg))
	setStateMetric(name, cb.State())
	return &Breaker{cb: cb}
}

func settings(name string, cfg config.CircuitBreakerConfig) gobreaker.Settings {
	s := gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(cfg.MaxRequests, defaultMaxRequests),
		Interval:    orDefault(cfg.Interval, defaultInterval),
		Timeout:     orDefault(cfg.Timeout, defaultTimeout),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			setStateMetric(name, to)
		},
	}

	minRequests := orDefault(cfg.MinRequests, defaultMinRequests)
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}
	s.ReadyToTrip = func(c gobreaker.Counts) bool {
		return c.Requests >= minRequests && float64(c.TotalFailures)/float64(c.Requests) >= ratio
	}
	return s
}

func orDefault[T uint32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Do runs fn under b.
func Do[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if b == nil {
		return fn()
	}

	var out T
	_, err := b.cb.Execute(func() (interface{}, error) {
		var err error
		out, err = fn()
		return nil, err
	})
	b.count(err)

	if Rejected(err) {
		return zero, pkgerrors.ErrServiceUnavailable.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("%s circuit breaker is %s", b.cb.Name(), b.cb.State()))
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

// Rejected reports whether err came from the breaker rather than the call.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker) State() string {
	if b == nil {
		return StateDisabled
	}
	return b.cb.State().String()
}

func (b *Breaker) Open() bool {
	return b != nil && b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) count(err error) {
	name := b.cb.Name()
	metrics.CircuitBreakerRequests.WithLabelValues(name, b.cb.State().String()).Inc()
	if err != nil && !Rejected(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
	}
}

// setStateMetric maps closed, half-open and open to 0, 1 and 2.
func setStateMetric(name string, state gobreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
