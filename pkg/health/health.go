package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// DegradedError marks a check that is failing without taking the service
// down, such as an open circuit breaker with a local fallback.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

func Degraded(format string, args ...interface{}) error {
	return &DegradedError{Reason: fmt.Sprintf(format, args...)}
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string {
	return c.CheckName
}

func (c CheckerFunc) Check(ctx context.Context) error {
	return c.Fn(ctx)
}

// Optional wraps a dependency the service can run without. Its failures
// report degraded instead of unhealthy.
func Optional(c Checker) Checker {
	return CheckerFunc{
		CheckName: c.Name(),
		Fn: func(ctx context.Context) error {
			if err := c.Check(ctx); err != nil {
				var degraded *DegradedError
				if errors.As(err, &degraded) {
					return err
				}
				return Degraded("%s unavailable: %v", c.Name(), err)
			}
			return nil
		},
	}
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker concurrently, each bounded by its own timeout.
// Any unhealthy check makes the service unhealthy; otherwise any degraded
// check makes it degraded.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(r.checkers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, checker := range r.checkers {
		g.Go(func() error {
			result := run(gctx, checker)
			mu.Lock()
			results[checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func run(ctx context.Context, checker Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	result := CheckResult{
		Status:    StatusHealthy,
		Duration:  time.Since(start).String(),
		Timestamp: time.Now(),
	}

	var degraded *DegradedError
	switch {
	case errors.As(err, &degraded):
		result.Status = StatusDegraded
		result.Message = degraded.Reason
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

func NewPostgreSQLChecker(db *sql.DB) Checker {
	return CheckerFunc{
		CheckName: "postgresql",
		Fn: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("postgresql ping failed: %w", err)
			}
			return nil
		},
	}
}

func NewRedisChecker(client *redis.Client) Checker {
	return CheckerFunc{
		CheckName: "redis",
		Fn: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			return nil
		},
	}
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	return CheckerFunc{
		CheckName: "mongodb",
		Fn: func(ctx context.Context) error {
			if err := client.Ping(ctx, nil); err != nil {
				return fmt.Errorf("mongodb ping failed: %w", err)
			}
			return nil
		},
	}
}
