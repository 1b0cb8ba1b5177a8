package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/batching"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/pkg/retry"
)

type fakePublisher struct {
	mu          sync.Mutex
	failBatches int
	failDLQ     bool
	delivered   []string
	deadLetters []string
}

func (f *fakePublisher) SendSingle(context.Context, SingleNotification) error { return nil }

func (f *fakePublisher) SendBatch(_ context.Context, b batching.ReadyBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatches != 0 {
		if f.failBatches > 0 {
			f.failBatches--
		}
		return errors.New("broker unavailable")
	}
	f.delivered = append(f.delivered, b.ID)
	return nil
}

func (f *fakePublisher) DeadLetterBatch(_ context.Context, b batching.ReadyBatch, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDLQ {
		return errors.New("dlq unavailable")
	}
	f.deadLetters = append(f.deadLetters, b.ID)
	return nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestOutbox(p *fakePublisher, clock *stepClock, opts ...OutboxOption) *Outbox {
	opts = append([]OutboxOption{
		WithOutboxClock(clock.Now),
		WithOutboxPolicy(retry.Policy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: time.Second, Multiplier: 1}),
	}, opts...)
	return NewOutbox(p, logger.NopLogger(), opts...)
}

func readyBatch(id string) batching.ReadyBatch {
	return batching.ReadyBatch{
		ID:        id,
		ChannelID: "C1",
		Events:    []*event.NotificationEvent{comment("a"), comment("b")},
		Reason:    batching.ReasonSize,
	}
}

func TestOutbox_RetriesParkedBatch(t *testing.T) {
	p := &fakePublisher{failBatches: 1}
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	o := newTestOutbox(p, clock)
	ctx := context.Background()

	require.NoError(t, o.SendBatch(ctx, readyBatch("b1")), "a parked batch is not a caller error")
	assert.Equal(t, 1, o.Pending())

	o.RetryDue(ctx)
	assert.Empty(t, p.delivered, "backoff has not elapsed")

	clock.Advance(time.Second)
	o.RetryDue(ctx)
	assert.Equal(t, []string{"b1"}, p.delivered)
	assert.Zero(t, o.Pending())
}

func TestOutbox_DeadLettersAfterMaxAttempts(t *testing.T) {
	p := &fakePublisher{failBatches: -1}
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	o := newTestOutbox(p, clock)
	ctx := context.Background()

	require.NoError(t, o.SendBatch(ctx, readyBatch("b1")))
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		o.RetryDue(ctx)
	}

	assert.Empty(t, p.delivered)
	assert.Equal(t, []string{"b1"}, p.deadLetters)
	assert.Zero(t, o.Pending())
}

func TestOutbox_KeepsBatchWhenDLQFails(t *testing.T) {
	p := &fakePublisher{failBatches: -1, failDLQ: true}
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	o := newTestOutbox(p, clock)
	ctx := context.Background()

	require.NoError(t, o.SendBatch(ctx, readyBatch("b1")))
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		o.RetryDue(ctx)
	}
	assert.Equal(t, 1, o.Pending())

	p.mu.Lock()
	p.failBatches = 0
	p.mu.Unlock()
	clock.Advance(time.Second)
	o.RetryDue(ctx)
	assert.Equal(t, []string{"b1"}, p.delivered)
}

func TestOutbox_FullDeadLettersImmediately(t *testing.T) {
	p := &fakePublisher{failBatches: -1}
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	o := newTestOutbox(p, clock, WithOutboxCapacity(1))
	ctx := context.Background()

	require.NoError(t, o.SendBatch(ctx, readyBatch("b1")))
	require.NoError(t, o.SendBatch(ctx, readyBatch("b2")))
	assert.Equal(t, 1, o.Pending())
	assert.Equal(t, []string{"b2"}, p.deadLetters)

	p.failDLQ = true
	assert.Error(t, o.SendBatch(ctx, readyBatch("b3")), "neither parked nor dead-lettered")
}

func TestOutbox_Drain(t *testing.T) {
	tests := []struct {
		name     string
		pub      *fakePublisher
		wantErr  bool
		wantSent []string
		wantDLQ  []string
	}{
		{name: "delivers", pub: &fakePublisher{}, wantSent: []string{"b1", "b2"}},
		{name: "dead-letters", pub: &fakePublisher{failBatches: -1}, wantDLQ: []string{"b1", "b2"}},
		{name: "reports loss", pub: &fakePublisher{failBatches: -1, failDLQ: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
			o := newTestOutbox(tt.pub, clock)
			ctx := context.Background()

			fails := tt.pub.failBatches
			tt.pub.failDLQ, tt.pub.failBatches = false, -1
			require.NoError(t, o.SendBatches(ctx, []batching.ReadyBatch{readyBatch("b1"), readyBatch("b2")}))
			require.Equal(t, 2, o.Pending())
			tt.pub.failBatches = fails
			if tt.wantErr {
				tt.pub.failDLQ = true
			}

			err := o.Drain(ctx)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSent, tt.pub.delivered)
			assert.Equal(t, tt.wantDLQ, tt.pub.deadLetters)
			assert.Zero(t, o.Pending())
		})
	}
}

func TestOutbox_RunStopsWithContext(t *testing.T) {
	o := NewOutbox(&fakePublisher{}, logger.NopLogger(), WithOutboxInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
