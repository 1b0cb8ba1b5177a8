package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"hush/internal/config"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/metrics"
	"hush/pkg/middleware"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromSettings fills unset fields from DefaultConfig. Intervals in the
// settings are in seconds.
func FromSettings(s config.RateLimitConfig) RateLimitConfig {
	cfg := DefaultConfig()
	if s.RPS > 0 {
		cfg.RPS = s.RPS
	}
	if s.Burst > 0 {
		cfg.Burst = s.Burst
	}
	if s.CleanupInterval > 0 {
		cfg.CleanupInterval = time.Duration(s.CleanupInterval) * time.Second
	}
	if s.MaxAge > 0 {
		cfg.MaxAge = time.Duration(s.MaxAge) * time.Second
	}
	return cfg
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters holds one token bucket per caller.
type limiters struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*client
}

func newLimiters(cfg RateLimitConfig) *limiters {
	return &limiters{cfg: cfg, clients: make(map[string]*client)}
}

func (l *limiters) allow(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	allowed := c.limiter.AllowN(now, 1)
	remaining := int(c.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// sweep forgets callers idle for longer than MaxAge.
func (l *limiters) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.MaxAge {
			delete(l.clients, key)
		}
	}
}

// callerKey prefers the X-User-ID caller so operators behind one proxy do
// not share a bucket.
func callerKey(c *gin.Context) string {
	if userID := middleware.UserID(c.Request.Context()); userID != "" {
		return "user:" + userID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.RemoteIP()
	}
	return "ip:" + ip
}

// RateLimitMiddleware limits management API requests per caller. Idle
// callers are dropped until ctx is done. It must run after
// middleware.Identity.
func RateLimitMiddleware(ctx context.Context, cfg RateLimitConfig) gin.HandlerFunc {
	l := newLimiters(cfg)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()

	limit := strconv.FormatFloat(cfg.RPS, 'f', -1, 64)

	return func(c *gin.Context) {
		allowed, remaining := l.allow(callerKey(c), time.Now())
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", "1")
			err := pkgerrors.ErrCapacity.WithDetail("message", "rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, pkgerrors.ToErrorResponse(err))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
