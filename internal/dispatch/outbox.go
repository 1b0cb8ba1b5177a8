package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hush/internal/batching"
	"hush/internal/constants"
	"hush/internal/logger"
	"hush/pkg/metrics"
	"hush/pkg/retry"
)

// BatchPublisher is the delivery side the outbox retries against.
type BatchPublisher interface {
	SendSingle(ctx context.Context, n SingleNotification) error
	SendBatch(ctx context.Context, b batching.ReadyBatch) error
	DeadLetterBatch(ctx context.Context, b batching.ReadyBatch, cause error) error
}

var _ BatchPublisher = (*KafkaDispatcher)(nil)

type parkedBatch struct {
	batch    batching.ReadyBatch
	attempts int
	next     time.Time
}

type OutboxOption func(*Outbox)

func WithOutboxPolicy(p retry.Policy) OutboxOption {
	return func(o *Outbox) {
		o.policy = p
	}
}

func WithOutboxCapacity(n int) OutboxOption {
	return func(o *Outbox) {
		if n > 0 {
			o.capacity = n
		}
	}
}

func WithOutboxInterval(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(o *Outbox) {
		o.now = now
	}
}

// Outbox owns a finalized batch until it is delivered or dead-lettered. The
// events in a batch were accepted before it was flushed, so redelivering
// their envelopes cannot rebuild it; a failed batch is parked here and
// retried instead.
type Outbox struct {
	publisher BatchPublisher
	policy    retry.Policy
	capacity  int
	interval  time.Duration
	now       func() time.Time
	logger    logger.Logger

	mu     sync.Mutex
	parked []parkedBatch
}

func NewOutbox(publisher BatchPublisher, log logger.Logger, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		publisher: publisher,
		policy: retry.Policy{
			MaxAttempts:     constants.DefaultOutboxMaxAttempts,
			InitialInterval: 2 * time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2.0,
		},
		capacity: constants.DefaultOutboxCapacity,
		interval: constants.DefaultOutboxRetryInterval,
		now:      time.Now,
		logger:   logger.Component(log, "outbox"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendSingle passes through. A failed single is returned so the consumer
// redelivers its envelope, which the idempotent suppression check lets
// through again.
func (o *Outbox) SendSingle(ctx context.Context, n SingleNotification) error {
	return o.publisher.SendSingle(ctx, n)
}

// SendBatch publishes b or parks it for a later attempt. It only fails when
// b could be neither published, parked nor dead-lettered.
func (o *Outbox) SendBatch(ctx context.Context, b batching.ReadyBatch) error {
	err := o.publisher.SendBatch(ctx, b)
	if err == nil {
		return nil
	}
	return o.park(ctx, b, err)
}

func (o *Outbox) SendBatches(ctx context.Context, batches []batching.ReadyBatch) error {
	var errs []error
	for _, b := range batches {
		if err := o.SendBatch(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Outbox) park(ctx context.Context, b batching.ReadyBatch, cause error) error {
	o.mu.Lock()
	if len(o.parked) >= o.capacity {
		o.mu.Unlock()
		o.logger.WarnwCtx(ctx, "Outbox full, dead-lettering batch",
			"batch_id", b.ID,
			"channel_id", b.ChannelID,
			"capacity", o.capacity,
		)
		return o.deadLetter(ctx, b, cause)
	}
	o.parked = append(o.parked, parkedBatch{
		batch:    b,
		attempts: 1,
		next:     o.now().Add(o.policy.Delay(0)),
	})
	metrics.ParkedBatches.Set(float64(len(o.parked)))
	o.mu.Unlock()

	o.logger.WarnwCtx(ctx, "Batch dispatch failed, parked for retry",
		"batch_id", b.ID,
		"channel_id", b.ChannelID,
		"reason", b.Reason,
		"error", cause,
	)
	return nil
}

func (o *Outbox) deadLetter(ctx context.Context, b batching.ReadyBatch, cause error) error {
	if err := o.publisher.DeadLetterBatch(ctx, b, cause); err != nil {
		return fmt.Errorf("batch %s undeliverable: %w", b.ID, errors.Join(cause, err))
	}
	o.logger.ErrorwCtx(ctx, "Batch sent to DLQ",
		"batch_id", b.ID,
		"channel_id", b.ChannelID,
		"events", len(b.Events),
		"error", cause,
	)
	return nil
}

// Pending is the number of parked batches.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.parked)
}

// Run retries parked batches until ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.RetryDue(ctx)
		}
	}
}

// RetryDue makes one attempt at every batch whose backoff has elapsed. A
// batch out of attempts is dead-lettered; one that cannot be dead-lettered
// stays parked.
func (o *Outbox) RetryDue(ctx context.Context) {
	now := o.now()

	o.mu.Lock()
	var due []parkedBatch
	kept := o.parked[:0]
	for _, p := range o.parked {
		if now.Before(p.next) {
			kept = append(kept, p)
			continue
		}
		due = append(due, p)
	}
	o.parked = kept
	o.mu.Unlock()

	var back []parkedBatch
	for _, p := range due {
		if ctx.Err() != nil {
			back = append(back, p)
			continue
		}
		err := o.publisher.SendBatch(ctx, p.batch)
		if err == nil {
			o.logger.InfowCtx(ctx, "Parked batch delivered",
				"batch_id", p.batch.ID,
				"channel_id", p.batch.ChannelID,
				"attempts", p.attempts+1,
			)
			continue
		}

		p.attempts++
		if p.attempts >= o.policy.MaxAttempts {
			dlqErr := o.deadLetter(ctx, p.batch, err)
			if dlqErr == nil {
				continue
			}
			o.logger.ErrorwCtx(ctx, "Batch out of attempts and DLQ failed, keeping it parked",
				"batch_id", p.batch.ID,
				"error", dlqErr,
			)
		}
		p.next = o.now().Add(o.policy.Delay(p.attempts - 1))
		back = append(back, p)
	}

	o.mu.Lock()
	o.parked = append(o.parked, back...)
	metrics.ParkedBatches.Set(float64(len(o.parked)))
	o.mu.Unlock()
}

// Drain makes a last attempt at every parked batch and dead-letters what
// still fails. Batches that cannot be dead-lettered are reported as lost.
func (o *Outbox) Drain(ctx context.Context) error {
	o.mu.Lock()
	parked := o.parked
	o.parked = nil
	metrics.ParkedBatches.Set(0)
	o.mu.Unlock()

	var errs []error
	for _, p := range parked {
		err := o.publisher.SendBatch(ctx, p.batch)
		if err == nil {
			continue
		}
		if err := o.deadLetter(ctx, p.batch, err); err != nil {
			o.logger.ErrorwCtx(ctx, "Batch lost on shutdown",
				"batch_id", p.batch.ID,
				"channel_id", p.batch.ChannelID,
				"events", len(p.batch.Events),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
