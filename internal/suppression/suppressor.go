package suppression

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/pkg/metrics"
	"hush/pkg/tracing"
)

const (
	RuleDuplicate   = "suppression.duplicate"
	RuleFrequency   = "suppression.frequency"
	RuleStoreFailed = "suppression.store_error"
)

type Option func(*Suppressor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Suppressor) { s.now = now }
}

// Suppressor blocks exact duplicates and bursts of near-duplicates. Both
// structures are bucketed by (source, similarity hash).
type Suppressor struct {
	store  Store
	logger logger.Logger
	now    func() time.Time

	mu  sync.RWMutex
	cfg config.SuppressionConfig
}

func NewSuppressor(store Store, cfg config.SuppressionConfig, log logger.Logger, opts ...Option) *Suppressor {
	s := &Suppressor{
		store:  store,
		logger: logger.Component(log, "suppression"),
		now:    time.Now,
		cfg:    withDefaults(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withDefaults(cfg config.SuppressionConfig) config.SuppressionConfig {
	if cfg.ContentRetention <= 0 {
		cfg.ContentRetention = constants.DefaultContentRetention
	}
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = constants.DefaultFrequencyWindow
	}
	if cfg.FrequencyLimit <= 0 {
		cfg.FrequencyLimit = constants.DefaultFrequencyLimit
	}
	return cfg
}

// UpdateConfig swaps thresholds at runtime. The store is kept.
func (s *Suppressor) UpdateConfig(cfg config.SuppressionConfig) {
	s.mu.Lock()
	s.cfg = withDefaults(cfg)
	s.mu.Unlock()
	s.logger.Infow("Updated suppression thresholds",
		"content_retention", cfg.ContentRetention,
		"frequency_window", cfg.FrequencyWindow,
		"frequency_limit", cfg.FrequencyLimit,
	)
}

func (s *Suppressor) Config() config.SuppressionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// LimitFor returns the per-source frequency limit, falling back to the
// global one.
func (s *Suppressor) LimitFor(source event.Source) int {
	cfg := s.Config()
	if limit, ok := cfg.SourceLimits[string(source)]; ok && limit > 0 {
		return limit
	}
	return cfg.FrequencyLimit
}

func bucketKey(e *event.NotificationEvent) string {
	return string(e.Source) + ":" + e.SimilarityHash
}

// Check returns a block decision when e repeats content another event
// carried within the retention window or pushes its bucket over the
// frequency limit, and nil otherwise. Checking the same event again gives
// the same answer, so a retried delivery is not suppressed as a duplicate
// of itself. Store failures follow on_store_error.
func (s *Suppressor) Check(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) *decision.FilterDecision {
	ctx, span := tracing.Start(ctx, "suppression", "suppression.check", tracing.AttrEventID.String(e.ID))
	defer span.End()

	cfg := s.Config()
	now := s.now()
	bucket := bucketKey(e)

	seen, err := s.store.RememberContent(ctx, constants.CacheKeyPrefixContent+bucket+":"+e.ContentHash, e.ID, now, cfg.ContentRetention)
	if err != nil {
		return s.storeError(ctx, cfg, err, e)
	}
	if seen {
		metrics.IncSuppressionHit("duplicate")
		s.logger.DebugwCtx(ctx, "Duplicate content suppressed",
			"event_id", e.ID,
			"content_hash", e.ContentHash,
			"channel_id", fc.ChannelID,
		)
		d := decision.Block(decision.StageSuppression,
			fmt.Sprintf("duplicate content within %s", cfg.ContentRetention), 0.95).WithRules(RuleDuplicate)
		return &d
	}

	// the event id is the member so redelivery of the same event counts once
	count, err := s.store.CountOccurrence(ctx, constants.CacheKeyPrefixFrequency+bucket, e.ID, now, cfg.FrequencyWindow)
	if err != nil {
		return s.storeError(ctx, cfg, err, e)
	}

	limit := s.LimitFor(e.Source)
	if count > limit {
		metrics.IncSuppressionHit("frequency")
		s.logger.DebugwCtx(ctx, "Frequency limit exceeded",
			"event_id", e.ID,
			"similarity_hash", e.SimilarityHash,
			"count", count,
			"limit", limit,
		)
		d := decision.Block(decision.StageSuppression,
			fmt.Sprintf("%d similar %s events within %s exceeds limit of %d", count, e.Source, cfg.FrequencyWindow, limit), 0.8).WithRules(RuleFrequency)
		return &d
	}

	return nil
}

func (s *Suppressor) storeError(ctx context.Context, cfg config.SuppressionConfig, err error, e *event.NotificationEvent) *decision.FilterDecision {
	metrics.IncSuppressionStoreError(s.store.Name())
	tracing.Fail(ctx, err)

	if cfg.OnStoreError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("suppression", "deny_on_error", "store_error").Inc()
		s.logger.WarnwCtx(ctx, "Suppression store error, blocking event (fallback: deny)",
			"event_id", e.ID,
			"store", s.store.Name(),
			"error", err,
		)
		d := decision.Block(decision.StageSuppression, "suppression store unavailable", 0.1).WithRules(RuleStoreFailed)
		return &d
	}

	metrics.FallbackUsageTotal.WithLabelValues("suppression", "allow_on_error", "store_error").Inc()
	s.logger.WarnwCtx(ctx, "Suppression store error, allowing event (fallback: allow)",
		"event_id", e.ID,
		"store", s.store.Name(),
		"error", err,
	)
	return nil
}
