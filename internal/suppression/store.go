package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/pkg/circuitbreaker"
)

// Store holds the two rolling structures the Suppressor consults. Both
// operations record the observation as well as reporting on it, and both
// are idempotent per event so a redelivered event is not its own duplicate.
type Store interface {
	// RememberContent records key for owner until now+retention. It reports
	// true only when the key is already held by a different owner.
	RememberContent(ctx context.Context, key, owner string, now time.Time, retention time.Duration) (bool, error)
	// CountOccurrence adds member to the window ending at now and returns
	// the number of distinct members inside it, this one included. Adding
	// a member again does not count it twice.
	CountOccurrence(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error)
	Name() string
}

// NewStore builds the configured store. The redis store is wrapped in a
// circuit breaker when one is enabled.
func NewStore(cfg config.SuppressionConfig, client *redis.Client, cb config.CircuitBreakerConfig) (Store, error) {
	switch cfg.Store {
	case "", constants.StoreMemory:
		return NewMemoryStore(), nil
	case constants.StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("suppression store %q requires a redis client", cfg.Store)
		}
		return NewCircuitBreakerStore(NewRedisStore(client), cb), nil
	default:
		return nil, fmt.Errorf("unknown suppression store %q", cfg.Store)
	}
}

// CircuitBreakerStore stops calling a failing store until the breaker
// half-opens. Errors still surface so the Suppressor applies its fallback.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Breaker
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	return &CircuitBreakerStore{store: store, cb: circuitbreaker.New(store.Name()+"-suppression", cfg)}
}

func (s *CircuitBreakerStore) RememberContent(ctx context.Context, key, owner string, now time.Time, retention time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, s.cb, func() (bool, error) {
		return s.store.RememberContent(ctx, key, owner, now, retention)
	})
}

func (s *CircuitBreakerStore) CountOccurrence(ctx context.Context, key, member string, now time.Time, window time.Duration) (int, error) {
	return circuitbreaker.Do(ctx, s.cb, func() (int, error) {
		return s.store.CountOccurrence(ctx, key, member, now, window)
	})
}

func (s *CircuitBreakerStore) Name() string {
	return s.store.Name()
}

// State reports the breaker state, or "disabled".
func (s *CircuitBreakerStore) State() string {
	return s.cb.State()
}

func (s *CircuitBreakerStore) Open() bool {
	return s.cb.Open()
}
