package batching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/logging"
	"hush/pkg/metrics"
	"hush/pkg/retry"
)

// channelState owns a channel's open groups. groups, order and removed are
// guarded by sem, a weighted semaphore of size one so that acquisition can
// time out. The counters are atomic so stats never need the lock.
type channelState struct {
	id  string
	sem *semaphore.Weighted

	groups  map[string]*BatchGroup
	order   []string
	removed bool

	openGroups     atomic.Int32
	pending        atomic.Int32
	added          atomic.Int64
	flushed        atomic.Int64
	flushedMembers atomic.Int64
	lastActivity   atomic.Int64
}

func newChannelState(id string, now time.Time) *channelState {
	ch := &channelState{
		id:     id,
		sem:    semaphore.NewWeighted(1),
		groups: make(map[string]*BatchGroup),
	}
	ch.lastActivity.Store(now.UnixNano())
	return ch
}

func (ch *channelState) unlock() {
	ch.sem.Release(1)
}

func (ch *channelState) idle() bool {
	return ch.openGroups.Load() == 0 && ch.pending.Load() == 0
}

type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPolicy(p SimilarityPolicy) Option {
	return func(e *Engine) {
		e.policy = p
		e.customPolicy = true
	}
}

// WithReadyHandler receives batches finalized by the sweeper.
func WithReadyHandler(fn func(context.Context, ReadyBatch)) Option {
	return func(e *Engine) { e.onReady = fn }
}

// Engine groups allowed events per channel and releases them as ReadyBatches
// when a group fills up, ages out, or is flushed.
type Engine struct {
	logger  logger.Logger
	now     func() time.Time
	onReady func(context.Context, ReadyBatch)

	cfgMu        sync.RWMutex
	cfg          config.BatchingConfig
	overrides    map[string]config.ChannelBatchConfig
	policy       SimilarityPolicy
	customPolicy bool

	mu         sync.Mutex
	channels   map[string]*channelState
	openGroups atomic.Int64
}

func NewEngine(cfg config.BatchingConfig, log logger.Logger, opts ...Option) *Engine {
	cfg = withDefaults(cfg)
	e := &Engine{
		logger:    logger.Component(log, "batching"),
		now:       time.Now,
		cfg:       cfg,
		overrides: make(map[string]config.ChannelBatchConfig, len(cfg.Channels)),
		policy:    NewJaccardPolicy(cfg.SimilarityThreshold),
		channels:  make(map[string]*channelState),
	}
	for id, override := range cfg.Channels {
		e.overrides[id] = override
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func withDefaults(cfg config.BatchingConfig) config.BatchingConfig {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = constants.DefaultMaxBatchSize
	}
	if cfg.MaxBatchAge <= 0 {
		cfg.MaxBatchAge = constants.DefaultMaxBatchAge
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = constants.DefaultSimilarityThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = constants.DefaultSweepInterval
	}
	if cfg.IdleHorizon <= 0 {
		cfg.IdleHorizon = constants.DefaultIdleHorizon
	}
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = constants.DefaultMaxChannels
	}
	if cfg.MaxGroupsPerChannel <= 0 {
		cfg.MaxGroupsPerChannel = constants.DefaultMaxGroupsPerChannel
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = constants.DefaultLockTimeout
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = constants.DefaultLockRetries
	}
	return cfg
}

func (e *Engine) settings() (config.BatchingConfig, SimilarityPolicy) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg, e.policy
}

// thresholds resolves a channel's size and age limits; zero override fields
// inherit the defaults.
func (e *Engine) thresholds(channelID string) (int, time.Duration) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	size, age := e.cfg.MaxBatchSize, e.cfg.MaxBatchAge
	if o, ok := e.overrides[channelID]; ok {
		if o.MaxBatchSize > 0 {
			size = o.MaxBatchSize
		}
		if o.MaxBatchAge > 0 {
			age = o.MaxBatchAge
		}
	}
	return size, age
}

// UpdateBatchConfig sets per-channel thresholds. Groups already open keep
// the thresholds they were opened with. A zero config removes the override.
func (e *Engine) UpdateBatchConfig(channelID string, cfg config.ChannelBatchConfig) error {
	if channelID == "" {
		return pkgerrors.ErrConfiguration.WithDetail("message", "channel id is required")
	}
	if err := config.ValidateChannelBatch(cfg); err != nil {
		return pkgerrors.ErrConfiguration.WithCause(err).WithDetail("channel_id", channelID)
	}

	e.cfgMu.Lock()
	if cfg.MaxBatchSize == 0 && cfg.MaxBatchAge == 0 {
		delete(e.overrides, channelID)
	} else {
		e.overrides[channelID] = cfg
	}
	e.cfgMu.Unlock()

	e.logger.Infow("Updated channel batch config",
		"channel_id", channelID,
		"max_batch_size", cfg.MaxBatchSize,
		"max_batch_age", cfg.MaxBatchAge,
	)
	return nil
}

// UpdateDefaults swaps the engine-wide thresholds, as on a config reload.
func (e *Engine) UpdateDefaults(cfg config.BatchingConfig) error {
	cfg = withDefaults(cfg)
	if err := config.ValidateBatching(cfg); err != nil {
		return pkgerrors.ErrConfiguration.WithCause(err)
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	for id, override := range cfg.Channels {
		e.overrides[id] = override
	}
	if !e.customPolicy {
		e.policy = NewJaccardPolicy(cfg.SimilarityThreshold)
	}
	e.cfgMu.Unlock()
	return nil
}

// Add offers an allowed event to the channel's batching state. It returns a
// ReadyBatch when the event completes a group, or when the event skips
// batching: critical events bypass it and a lock that cannot be taken
// degrades to an unbatched single. It returns nil while the event waits in
// an open group.
func (e *Engine) Add(ctx context.Context, ev *event.NotificationEvent, channelID string, d decision.FilterDecision) (*ReadyBatch, error) {
	if !d.Allowed() {
		return nil, ErrNotAllowed
	}
	if ev == nil || channelID == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "event and channel id are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx = logging.WithChannelID(logging.WithEventID(ctx, ev.ID), channelID)
	now := e.now()

	if ev.Urgency() == event.UrgencyCritical {
		return e.single(ev, channelID, ReasonBypass, now), nil
	}

	// a channel evicted between lookup and lock is looked up again once
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := e.channel(channelID, now)
		if err != nil {
			return nil, err
		}

		if err := e.lock(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return e.degrade(ctx, ev, channelID, now, err), nil
		}
		if ch.removed {
			ch.unlock()
			continue
		}

		batch, err := e.addLocked(ctx, ch, ev, now)
		ch.unlock()
		e.publishState()
		return batch, err
	}

	return e.degrade(ctx, ev, channelID, now, errors.New("channel evicted during add")), nil
}

func (e *Engine) addLocked(ctx context.Context, ch *channelState, ev *event.NotificationEvent, now time.Time) (*ReadyBatch, error) {
	cfg, policy := e.settings()
	batchType := policy.BatchType(ev)

	g := e.match(ch, policy, batchType, ev)
	if g == nil {
		if len(ch.groups) >= cfg.MaxGroupsPerChannel {
			metrics.CapacityRejectionsTotal.WithLabelValues("max_groups_per_channel").Inc()
			return nil, pkgerrors.ErrCapacity.
				WithDetail("limit", "max_groups_per_channel").
				WithDetail("channel_id", ch.id)
		}
		size, age := e.thresholds(ch.id)
		g = &BatchGroup{
			ID:        uuid.New().String(),
			ChannelID: ch.id,
			BatchType: batchType,
			CreatedAt: now,
			ExpiresAt: now.Add(age),
			State:     StateOpen,
			MaxSize:   size,
			MaxAge:    age,
		}
		g.BucketKey = ch.id + "|" + batchType + "|" + g.ID
		ch.groups[g.BucketKey] = g
		ch.order = append(ch.order, g.BucketKey)
		ch.openGroups.Add(1)
		e.openGroups.Add(1)
	}

	g.Members = append(g.Members, ev)
	g.LastActivity = now
	ch.added.Add(1)
	ch.pending.Add(1)
	ch.lastActivity.Store(now.UnixNano())

	switch {
	case len(g.Members) >= g.MaxSize:
		return e.finalize(ctx, ch, g, ReasonSize, now), nil
	case !now.Before(g.ExpiresAt):
		return e.finalize(ctx, ch, g, ReasonAge, now), nil
	}
	return nil, nil
}

// match returns the most similar open group of the same batch type that
// clears the policy threshold. Ties go to the older group.
func (e *Engine) match(ch *channelState, policy SimilarityPolicy, batchType string, ev *event.NotificationEvent) *BatchGroup {
	var (
		best      *BatchGroup
		bestScore float64
	)
	for _, key := range ch.order {
		g := ch.groups[key]
		if g.BatchType != batchType || len(g.Members) >= g.MaxSize {
			continue
		}
		score := policy.Score(g.representative(), ev)
		if score >= policy.Threshold() && (best == nil || score > bestScore) {
			best, bestScore = g, score
		}
	}
	return best
}

// finalize must be called with the channel lock held. The group moves to
// flushing, its batch is built, and it is removed and closed before the
// lock is released.
func (e *Engine) finalize(ctx context.Context, ch *channelState, g *BatchGroup, reason FlushReason, now time.Time) *ReadyBatch {
	if err := g.advance(StateFlushing); err != nil {
		e.logger.ErrorwCtx(ctx, "Batch group in unexpected state", "error", err)
		return nil
	}

	members := make([]*event.NotificationEvent, len(g.Members))
	copy(members, g.Members)
	batch := &ReadyBatch{
		ID:        g.ID,
		ChannelID: g.ChannelID,
		BatchType: g.BatchType,
		Events:    members,
		Summary:   summarize(members),
		Reason:    reason,
		CreatedAt: g.CreatedAt,
		FlushedAt: now,
	}

	delete(ch.groups, g.BucketKey)
	for i, key := range ch.order {
		if key == g.BucketKey {
			ch.order = append(ch.order[:i], ch.order[i+1:]...)
			break
		}
	}
	_ = g.advance(StateClosed)

	ch.openGroups.Add(-1)
	e.openGroups.Add(-1)
	ch.pending.Add(-int32(len(members)))
	ch.flushed.Add(1)
	ch.flushedMembers.Add(int64(len(members)))
	metrics.ObserveBatchFlush(string(reason), len(members))

	e.logger.DebugwCtx(ctx, "Batch finalized",
		"batch_id", batch.ID,
		"batch_type", batch.BatchType,
		"reason", reason,
		"size", len(members),
	)
	return batch
}

func (e *Engine) single(ev *event.NotificationEvent, channelID string, reason FlushReason, now time.Time) *ReadyBatch {
	_, policy := e.settings()
	members := []*event.NotificationEvent{ev}
	metrics.ObserveBatchFlush(string(reason), 1)
	return &ReadyBatch{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		BatchType: policy.BatchType(ev),
		Events:    members,
		Summary:   summarize(members),
		Reason:    reason,
		Degraded:  reason == ReasonDegraded,
		CreatedAt: now,
		FlushedAt: now,
	}
}

func (e *Engine) degrade(ctx context.Context, ev *event.NotificationEvent, channelID string, now time.Time, cause error) *ReadyBatch {
	metrics.DegradedBatchingTotal.Inc()
	e.logger.WarnwCtx(ctx, "Channel lock unavailable, passing event unbatched",
		"error", cause,
	)
	return e.single(ev, channelID, ReasonDegraded, now)
}

// lock takes the channel semaphore, giving each attempt lock_timeout and
// backing off exponentially between lock_retries attempts.
func (e *Engine) lock(ctx context.Context, ch *channelState) error {
	cfg, _ := e.settings()
	policy := retry.Policy{
		MaxAttempts:     cfg.LockRetries,
		InitialInterval: cfg.LockTimeout / 10,
		MaxInterval:     cfg.LockTimeout,
		Multiplier:      2.0,
	}

	return retry.Retry(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.LockTimeout)
		defer cancel()

		if err := ch.sem.Acquire(attemptCtx, 1); err != nil {
			if ctx.Err() != nil {
				return retry.NewFatalError(ctx.Err())
			}
			return fmt.Errorf("channel %s lock timed out after %s", ch.id, cfg.LockTimeout)
		}
		return nil
	})
}

// channel returns the channel's state, creating it if needed. At the
// channel limit the least recently active idle channel is evicted first.
func (e *Engine) channel(id string, now time.Time) (*channelState, error) {
	cfg, _ := e.settings()

	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.channels[id]; ok {
		return ch, nil
	}

	if len(e.channels) >= cfg.MaxChannels && !e.evictIdleLocked() {
		metrics.CapacityRejectionsTotal.WithLabelValues("max_channels").Inc()
		return nil, pkgerrors.ErrCapacity.
			WithDetail("limit", "max_channels").
			WithDetail("channel_id", id)
	}

	ch := newChannelState(id, now)
	e.channels[id] = ch
	return ch, nil
}

// evictIdleLocked must be called with e.mu held. It only try-locks channels
// so it never waits on a channel while holding the root lock.
func (e *Engine) evictIdleLocked() bool {
	candidates := make([]*channelState, 0)
	for _, ch := range e.channels {
		if ch.idle() {
			candidates = append(candidates, ch)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastActivity.Load() < candidates[j].lastActivity.Load()
	})

	for _, ch := range candidates {
		if !ch.sem.TryAcquire(1) {
			continue
		}
		evicted := len(ch.groups) == 0
		if evicted {
			ch.removed = true
			delete(e.channels, ch.id)
		}
		ch.unlock()
		if evicted {
			metrics.ChannelsEvictedTotal.WithLabelValues("capacity").Inc()
			e.logger.Infow("Evicted idle channel to make room",
				"channel_id", ch.id,
			)
			return true
		}
	}
	return false
}

func (e *Engine) lookup(id string) *channelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[id]
}

func (e *Engine) channelIDs() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.channels))
	for id := range e.channels {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Flush finalizes every open group of channelID, or of all channels when
// channelID is empty. A channel with no open groups yields an empty list.
// Cancellation stops between groups; a group is never half flushed.
func (e *Engine) Flush(ctx context.Context, channelID string) []ReadyBatch {
	return e.flush(ctx, channelID, ReasonExplicit)
}

// Shutdown flushes every channel with reason shutdown.
func (e *Engine) Shutdown(ctx context.Context) []ReadyBatch {
	return e.flush(ctx, "", ReasonShutdown)
}

func (e *Engine) flush(ctx context.Context, channelID string, reason FlushReason) []ReadyBatch {
	ids := []string{channelID}
	if channelID == "" {
		ids = e.channelIDs()
	}

	out := make([]ReadyBatch, 0)
	now := e.now()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ch := e.lookup(id)
		if ch == nil {
			continue
		}
		if err := ch.sem.Acquire(ctx, 1); err != nil {
			break
		}
		if !ch.removed {
			for _, key := range append([]string(nil), ch.order...) {
				if ctx.Err() != nil {
					break
				}
				if batch := e.finalize(ctx, ch, ch.groups[key], reason, now); batch != nil {
					out = append(out, *batch)
				}
			}
		}
		ch.unlock()
	}

	e.publishState()
	return out
}

// ChannelStats reports a channel's counters without taking its lock.
func (e *Engine) ChannelStats(channelID string) (ChannelStats, bool) {
	ch := e.lookup(channelID)
	if ch == nil {
		return ChannelStats{}, false
	}

	size, age := e.thresholds(channelID)
	stats := ChannelStats{
		ChannelID:      channelID,
		OpenGroups:     int(ch.openGroups.Load()),
		PendingEvents:  int(ch.pending.Load()),
		EventsAdded:    ch.added.Load(),
		BatchesFlushed: ch.flushed.Load(),
		LastActivity:   time.Unix(0, ch.lastActivity.Load()),
		MaxBatchSize:   size,
		MaxBatchAge:    age.String(),
	}
	if stats.BatchesFlushed > 0 {
		stats.AverageBatchSize = float64(ch.flushedMembers.Load()) / float64(stats.BatchesFlushed)
	}
	return stats, true
}

// Counts returns the number of tracked channels and open groups.
func (e *Engine) Counts() (channels, openGroups int) {
	e.mu.Lock()
	channels = len(e.channels)
	e.mu.Unlock()
	return channels, int(e.openGroups.Load())
}

func (e *Engine) publishState() {
	channels, groups := e.Counts()
	metrics.SetBatchingState(channels, groups)
}
