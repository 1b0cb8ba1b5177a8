package batching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var allow = decision.Allow(decision.StageDefault, "no applicable rule", 0.5)

func prComment(pr int, author, body string) *event.NotificationEvent {
	return event.New(event.Params{
		Source: event.SourceCodeReview,
		Type:   "comment_created",
		Payload: map[string]interface{}{
			"pull_request": map[string]interface{}{"number": pr, "draft": true},
			"comment":      map[string]interface{}{"author": author, "body": body},
			"author":       author,
		},
	})
}

func newTestEngine(cfg config.BatchingConfig, clock *fakeClock, opts ...Option) *Engine {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewEngine(cfg, logger.NopLogger(), opts...)
}

func TestAdd_FifthCommentFlushesInArrivalOrder(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(config.BatchingConfig{}, clock)
	ctx := context.Background()

	var events []*event.NotificationEvent
	for i := 0; i < 4; i++ {
		e := prComment(7, fmt.Sprintf("dev%d", i%2), fmt.Sprintf("comment %d", i))
		events = append(events, e)
		batch, err := engine.Add(ctx, e, "C1", allow)
		require.NoError(t, err)
		assert.Nil(t, batch, "comment %d should be buffered", i)
		clock.Advance(20 * time.Second)
	}

	last := prComment(7, "dev0", "comment 4")
	events = append(events, last)
	batch, err := engine.Add(ctx, last, "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)

	assert.Equal(t, ReasonSize, batch.Reason)
	assert.Equal(t, events, batch.Events)
	assert.Equal(t, 5, batch.Summary.Count)
	assert.Equal(t, []string{"code_review"}, batch.Summary.Sources)
	assert.ElementsMatch(t, []string{"dev0", "dev1"}, batch.Summary.Authors)
	assert.Equal(t, "code_review/pull_request", batch.BatchType)

	assert.Empty(t, engine.Flush(ctx, "C1"))
}

func TestAdd_RejectsBlockedDecision(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	blocked := decision.Block(decision.StageRule, "muted", 1)

	_, err := engine.Add(context.Background(), prComment(1, "a", "x"), "C1", blocked)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestAdd_CriticalBypassesBatching(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	e := prComment(1, "a", "prod down")
	e.SetUrgency(event.UrgencyCritical)

	batch, err := engine.Add(context.Background(), e, "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, ReasonBypass, batch.Reason)
	assert.True(t, batch.Reason.Unbatched())
	assert.Len(t, batch.Events, 1)
	assert.Equal(t, event.UrgencyCritical, batch.Summary.HighestUrgency)

	_, tracked := engine.ChannelStats("C1")
	assert.False(t, tracked)
}

func TestAdd_DissimilarEventsGetSeparateGroups(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	ctx := context.Background()

	for _, e := range []*event.NotificationEvent{
		prComment(1, "alice", "a"),
		prComment(2, "bob", "b"),
		prComment(1, "carol", "c"),
	} {
		batch, err := engine.Add(ctx, e, "C1", allow)
		require.NoError(t, err)
		assert.Nil(t, batch)
	}

	stats, ok := engine.ChannelStats("C1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.OpenGroups)
	assert.Equal(t, 3, stats.PendingEvents)

	batches := engine.Flush(ctx, "C1")
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Events, 2, "same PR joins the first group")
	assert.Len(t, batches[1].Events, 1)
	for _, b := range batches {
		assert.Equal(t, ReasonExplicit, b.Reason)
	}
}

func TestAdd_AgeThresholdOnArrival(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(config.BatchingConfig{}, clock)
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(3, "a", "first"), "C1", allow)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	batch, err := engine.Add(ctx, prComment(3, "a", "second"), "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, ReasonAge, batch.Reason)
	assert.Len(t, batch.Events, 2)
}

func TestSweep_FinalizesAgedGroups(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(config.BatchingConfig{}, clock)
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(4, "a", "x"), "C1", allow)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	assert.Empty(t, engine.Sweep(ctx))

	clock.Advance(time.Minute)
	batches := engine.Sweep(ctx)
	require.Len(t, batches, 1)
	assert.Equal(t, ReasonAge, batches[0].Reason)

	stats, ok := engine.ChannelStats("C1")
	require.True(t, ok, "channel stays until the idle horizon")
	assert.Equal(t, 0, stats.OpenGroups)
	assert.EqualValues(t, 1, stats.BatchesFlushed)
}

func TestSweep_PrunesIdleChannels(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(config.BatchingConfig{}, clock)
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(4, "a", "x"), "C1", allow)
	require.NoError(t, err)
	require.Len(t, engine.Flush(ctx, "C1"), 1)

	clock.Advance(23 * time.Hour)
	engine.Sweep(ctx)
	_, ok := engine.ChannelStats("C1")
	assert.True(t, ok)

	clock.Advance(time.Hour)
	engine.Sweep(ctx)
	_, ok = engine.ChannelStats("C1")
	assert.False(t, ok)

	channels, groups := engine.Counts()
	assert.Zero(t, channels)
	assert.Zero(t, groups)
}

func TestFlush_Idempotent(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	ctx := context.Background()

	assert.NotNil(t, engine.Flush(ctx, "nowhere"))
	assert.Empty(t, engine.Flush(ctx, "nowhere"))

	_, err := engine.Add(ctx, prComment(1, "a", "x"), "C1", allow)
	require.NoError(t, err)
	assert.Len(t, engine.Flush(ctx, "C1"), 1)
	assert.Empty(t, engine.Flush(ctx, "C1"))
}

func TestFlush_AllChannelsAndShutdown(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	ctx := context.Background()

	for _, ch := range []string{"C1", "C2", "C3"} {
		_, err := engine.Add(ctx, prComment(1, "a", ch), ch, allow)
		require.NoError(t, err)
	}
	assert.Len(t, engine.Flush(ctx, ""), 3)

	_, err := engine.Add(ctx, prComment(1, "a", "late"), "C2", allow)
	require.NoError(t, err)
	batches := engine.Shutdown(ctx)
	require.Len(t, batches, 1)
	assert.Equal(t, ReasonShutdown, batches[0].Reason)
}

func TestFlush_CancelledContextLeavesGroupsOpen(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	_, err := engine.Add(context.Background(), prComment(1, "a", "x"), "C1", allow)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, engine.Flush(ctx, "C1"))

	stats, _ := engine.ChannelStats("C1")
	assert.Equal(t, 1, stats.OpenGroups)
}

func TestAdd_CancelledContext(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Add(ctx, prComment(1, "a", "x"), "C1", allow)
	assert.ErrorIs(t, err, context.Canceled)
	_, tracked := engine.ChannelStats("C1")
	assert.False(t, tracked)
}

func TestAdd_ChannelCapacityEvictsIdleFirst(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{MaxChannels: 1}, newFakeClock())
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(1, "a", "x"), "C1", allow)
	require.NoError(t, err)

	_, err = engine.Add(ctx, prComment(1, "a", "y"), "C2", allow)
	assert.True(t, pkgerrors.IsCapacity(err), "C1 has an open group and cannot be evicted")

	require.Len(t, engine.Flush(ctx, "C1"), 1)
	_, err = engine.Add(ctx, prComment(1, "a", "y"), "C2", allow)
	require.NoError(t, err)

	_, tracked := engine.ChannelStats("C1")
	assert.False(t, tracked)
}

func TestAdd_GroupCapacity(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{MaxGroupsPerChannel: 1}, newFakeClock())
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(1, "alice", "x"), "C1", allow)
	require.NoError(t, err)

	_, err = engine.Add(ctx, prComment(2, "bob", "y"), "C1", allow)
	assert.True(t, pkgerrors.IsCapacity(err))

	_, err = engine.Add(ctx, prComment(1, "alice", "z"), "C1", allow)
	assert.NoError(t, err, "similar events still join the existing group")
}

func TestAdd_LockTimeoutDegrades(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{LockTimeout: 5 * time.Millisecond, LockRetries: 2}, newFakeClock())
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(1, "a", "x"), "C1", allow)
	require.NoError(t, err)

	ch := engine.lookup("C1")
	require.True(t, ch.sem.TryAcquire(1))
	defer ch.unlock()

	e := prComment(1, "a", "y")
	batch, err := engine.Add(ctx, e, "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.True(t, batch.Degraded)
	assert.Equal(t, ReasonDegraded, batch.Reason)
	assert.Equal(t, []*event.NotificationEvent{e}, batch.Events)
}

func TestUpdateBatchConfig(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(config.BatchingConfig{}, clock)
	ctx := context.Background()

	_, err := engine.Add(ctx, prComment(1, "a", "opened before"), "C1", allow)
	require.NoError(t, err)

	require.NoError(t, engine.UpdateBatchConfig("C1", config.ChannelBatchConfig{MaxBatchSize: 2}))
	stats, _ := engine.ChannelStats("C1")
	assert.Equal(t, 2, stats.MaxBatchSize)

	for i := 0; i < 3; i++ {
		batch, err := engine.Add(ctx, prComment(1, "a", fmt.Sprint(i)), "C1", allow)
		require.NoError(t, err)
		assert.Nil(t, batch, "the open group keeps its size of 5")
	}
	batch, err := engine.Add(ctx, prComment(1, "a", "fifth"), "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Len(t, batch.Events, 5)

	_, err = engine.Add(ctx, prComment(1, "a", "new group"), "C1", allow)
	require.NoError(t, err)
	batch, err = engine.Add(ctx, prComment(1, "a", "second of two"), "C1", allow)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Len(t, batch.Events, 2)

	err = engine.UpdateBatchConfig("C1", config.ChannelBatchConfig{MaxBatchSize: -1})
	assert.True(t, pkgerrors.IsConfiguration(err))
	assert.True(t, pkgerrors.IsConfiguration(engine.UpdateBatchConfig("", config.ChannelBatchConfig{})))
}

func TestUpdateDefaults(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())

	require.NoError(t, engine.UpdateDefaults(config.BatchingConfig{MaxBatchSize: 3}))
	size, age := engine.thresholds("any")
	assert.Equal(t, 3, size)
	assert.Equal(t, 5*time.Minute, age)

	err := engine.UpdateDefaults(config.BatchingConfig{SimilarityThreshold: 2})
	assert.True(t, pkgerrors.IsConfiguration(err))
}

func TestStartSweeper_HandsOffAgedBatches(t *testing.T) {
	clock := newFakeClock()
	ready := make(chan ReadyBatch, 1)
	engine := newTestEngine(config.BatchingConfig{SweepInterval: 5 * time.Millisecond}, clock,
		WithReadyHandler(func(_ context.Context, b ReadyBatch) { ready <- b }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := engine.Add(ctx, prComment(1, "a", "x"), "C1", allow)
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- engine.StartSweeper(ctx) }()

	select {
	case b := <-ready:
		assert.Equal(t, ReasonAge, b.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not hand off the aged batch")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHandOff_RecoversHandlerPanic(t *testing.T) {
	calls := 0
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock(),
		WithReadyHandler(func(context.Context, ReadyBatch) {
			calls++
			panic("sink exploded")
		}))

	assert.NotPanics(t, func() {
		engine.handOff(context.Background(), ReadyBatch{ID: "b1", ChannelID: "C1"})
	})
	assert.Equal(t, 1, calls)
}

func TestAdd_ConcurrentChannelsKeepSizeInvariant(t *testing.T) {
	engine := newTestEngine(config.BatchingConfig{}, newFakeClock())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		batched int
	)
	for c := 0; c < 4; c++ {
		for i := 0; i < 23; i++ {
			wg.Add(1)
			go func(c, i int) {
				defer wg.Done()
				batch, err := engine.Add(ctx, prComment(1, "a", fmt.Sprint(i)), fmt.Sprintf("C%d", c), allow)
				assert.NoError(t, err)
				if batch == nil {
					return
				}
				assert.LessOrEqual(t, len(batch.Events), 5)
				mu.Lock()
				batched += len(batch.Events)
				mu.Unlock()
			}(c, i)
		}
	}
	wg.Wait()

	for _, b := range engine.Flush(ctx, "") {
		batched += len(b.Events)
	}
	assert.Equal(t, 4*23, batched)
}

func TestBatchGroup_StateMachine(t *testing.T) {
	g := &BatchGroup{ID: "g", State: StateOpen}

	assert.Error(t, g.advance(StateClosed))
	require.NoError(t, g.advance(StateFlushing))
	assert.Error(t, g.advance(StateOpen))
	require.NoError(t, g.advance(StateClosed))
	assert.Error(t, g.advance(StateFlushing))
}
