package processor

import (
	"context"

	"hush/internal/batching"
	"hush/internal/decision"
	"hush/internal/dispatch"
	"hush/internal/event"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/logging"
	"hush/pkg/models"
	"hush/pkg/retry"
)

type EventFactory interface {
	FromEnvelope(env models.MessageEnvelope) *event.NotificationEvent
}

type Decider interface {
	ShouldProcess(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) decision.FilterDecision
}

type Batcher interface {
	Add(ctx context.Context, ev *event.NotificationEvent, channelID string, d decision.FilterDecision) (*batching.ReadyBatch, error)
}

type Dispatcher interface {
	SendSingle(ctx context.Context, n dispatch.SingleNotification) error
	SendBatch(ctx context.Context, b batching.ReadyBatch) error
}

// Processor takes one inbound envelope through decision, batching and
// dispatch.
type Processor struct {
	events     EventFactory
	decider    Decider
	batches    Batcher
	dispatcher Dispatcher
	logger     logger.Logger
}

func New(events EventFactory, decider Decider, batches Batcher, dispatcher Dispatcher, log logger.Logger) *Processor {
	return &Processor{
		events:     events,
		decider:    decider,
		batches:    batches,
		dispatcher: dispatcher,
		logger:     logger.Component(log, "processor"),
	}
}

// HandleMessage is a broker.HandlerFunc. Only dispatch failures are returned,
// so the consumer retries or dead-letters the envelope. Redelivery is safe
// because the suppression check is idempotent per event id.
func (p *Processor) HandleMessage(ctx context.Context, msg models.MessageEnvelope) error {
	// a malformed envelope will not improve on redelivery
	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		p.logger.WarnwCtx(ctx, "Dropping invalid envelope",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	ev := p.events.FromEnvelope(msg)
	fc := decision.ContextFromEnvelope(msg, ev)
	ctx = logging.WithChannelID(logging.WithEventID(ctx, ev.ID), fc.ChannelID)

	d := p.decider.ShouldProcess(ctx, ev, fc)
	if !d.Allowed() {
		p.logger.DebugwCtx(ctx, "Event blocked",
			"stage", d.Stage,
			"reason", d.Reason,
		)
		return nil
	}

	// without a channel there is nothing to group by
	if fc.ChannelID == "" {
		return p.sendSingle(ctx, ev, d, fc.ChannelID)
	}

	ready, err := p.batches.Add(ctx, ev, fc.ChannelID, d)
	switch {
	case err == nil && ready == nil:
		return nil
	case err == nil && ready.Reason.Unbatched():
		// bypass and degraded results carry this event alone and keep its decision
		if ready.Degraded {
			d = d.AsDegraded()
		}
		return p.sendSingle(ctx, ev, d, fc.ChannelID)
	case err == nil:
		return p.sendBatch(ctx, *ready)
	case pkgerrors.IsCapacity(err):
		p.logger.WarnwCtx(ctx, "Batching at capacity, sending event on its own",
			"error", err,
		)
		return p.sendSingle(ctx, ev, d.AsDegraded(), fc.ChannelID)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.logger.ErrorwCtx(ctx, "Failed to batch event, sending on its own",
			"error", err,
		)
		return p.sendSingle(ctx, ev, d.AsDegraded(), fc.ChannelID)
	}
}

func (p *Processor) sendSingle(ctx context.Context, ev *event.NotificationEvent, d decision.FilterDecision, channelID string) error {
	return p.dispatcher.SendSingle(ctx, dispatch.SingleNotification{
		Event:     ev,
		Decision:  d,
		ChannelID: channelID,
	})
}

// sendBatch hands a finalized batch to the dispatcher. The batch already holds
// earlier events that a redelivered envelope cannot bring back, so a failure
// here is fatal for the envelope instead of retried.
func (p *Processor) sendBatch(ctx context.Context, b batching.ReadyBatch) error {
	if err := p.dispatcher.SendBatch(ctx, b); err != nil {
		p.logger.ErrorwCtx(ctx, "Batch undeliverable",
			"batch_id", b.ID,
			"channel_id", b.ChannelID,
			"events", len(b.Events),
			"error", err,
		)
		return retry.NewFatalError(err)
	}
	return nil
}

// HandleReady dispatches batches finalized outside the request path, such as
// by the sweeper. The dispatcher parks what it cannot deliver, so an error
// here means the batch could not be parked or dead-lettered either.
func (p *Processor) HandleReady(ctx context.Context, b batching.ReadyBatch) {
	if err := p.dispatcher.SendBatch(ctx, b); err != nil {
		p.logger.ErrorwCtx(ctx, "Swept batch undeliverable",
			"batch_id", b.ID,
			"channel_id", b.ChannelID,
			"reason", b.Reason,
			"events", len(b.Events),
			"error", err,
		)
	}
}
