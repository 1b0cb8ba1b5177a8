package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hush/internal/batching"
	"hush/internal/broker"
	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/pkg/metrics"
	"hush/pkg/models"
	"hush/pkg/retry"
	"hush/pkg/tracing"
)

// DLQReasonDispatch marks batches that exhausted their delivery attempts.
const DLQReasonDispatch = "dispatch_failed"

// SingleNotification is an allowed event sent on its own.
type SingleNotification struct {
	Event     *event.NotificationEvent
	Decision  decision.FilterDecision
	ChannelID string
}

type FlushRecorder interface {
	RecordFlush(b batching.ReadyBatch)
}

type Option func(*KafkaDispatcher)

func WithFlushRecorder(r FlushRecorder) Option {
	return func(d *KafkaDispatcher) {
		d.recorder = r
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(d *KafkaDispatcher) {
		d.policy = p
	}
}

// KafkaDispatcher publishes single notifications and ready batches to the
// outbound topics.
type KafkaDispatcher struct {
	producer    broker.Producer
	singleTopic string
	batchTopic  string
	dlqTopic    string
	policy      retry.Policy
	recorder    FlushRecorder
	logger      logger.Logger
}

func NewKafkaDispatcher(producer broker.Producer, cfg config.KafkaConfig, log logger.Logger, opts ...Option) *KafkaDispatcher {
	d := &KafkaDispatcher{
		producer:    producer,
		singleTopic: cfg.SingleTopic,
		batchTopic:  cfg.BatchTopic,
		dlqTopic:    cfg.DLQTopic,
		policy: retry.FromConfig(cfg.Retry, retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		}),
		logger: logger.Component(log, "dispatch"),
	}
	if d.singleTopic == "" {
		d.singleTopic = constants.DefaultSingleTopic
	}
	if d.batchTopic == "" {
		d.batchTopic = constants.DefaultBatchTopic
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *KafkaDispatcher) SendSingle(ctx context.Context, n SingleNotification) error {
	if n.Event == nil {
		return fmt.Errorf("single notification has no event")
	}
	return d.publish(ctx, d.singleTopic, singleEnvelope(n))
}

// SendBatch publishes a grouped batch. Bypass and degraded results carry
// one event that keeps its own decision, so they go through SendSingle.
func (d *KafkaDispatcher) SendBatch(ctx context.Context, b batching.ReadyBatch) error {
	if b.Reason.Unbatched() {
		return fmt.Errorf("batch %s was not grouped (%s), send its event as a single", b.ID, b.Reason)
	}
	if err := d.publish(ctx, d.batchTopic, batchEnvelope(b)); err != nil {
		return err
	}
	if d.recorder != nil {
		d.recorder.RecordFlush(b)
	}
	return nil
}

// SendBatches publishes every batch and joins the errors.
func (d *KafkaDispatcher) SendBatches(ctx context.Context, batches []batching.ReadyBatch) error {
	var errs []error
	for _, b := range batches {
		if err := d.SendBatch(ctx, b); err != nil {
			d.logger.ErrorwCtx(ctx, "Failed to dispatch batch",
				"batch_id", b.ID,
				"channel_id", b.ChannelID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeadLetterBatch parks b on the dead letter topic with the reason it could
// not be delivered.
func (d *KafkaDispatcher) DeadLetterBatch(ctx context.Context, b batching.ReadyBatch, cause error) error {
	if d.dlqTopic == "" {
		return fmt.Errorf("no dead letter topic for batch %s", b.ID)
	}
	env := batchEnvelope(b)
	env.SetAttribute("dlq_reason", DLQReasonDispatch)
	env.SetAttribute("dlq_error", cause.Error())
	env.SetAttribute("dlq_source_topic", d.batchTopic)
	env.SetAttribute("dlq_timestamp", time.Now().UTC())

	if err := d.publish(ctx, d.dlqTopic, env); err != nil {
		return err
	}
	metrics.DLQMessagesTotal.WithLabelValues(constants.ServiceName, d.batchTopic, DLQReasonDispatch).Inc()
	return nil
}

func (d *KafkaDispatcher) publish(ctx context.Context, topic string, env models.MessageEnvelope) error {
	ctx, span := tracing.Start(ctx, "dispatch", "dispatch.publish",
		tracing.AttrTopic.String(topic),
		tracing.AttrChannelID.String(env.Metadata.ChannelID),
	)
	defer span.End()

	err := retry.RetryWithCallback(ctx, d.policy, func() error {
		return d.producer.Publish(ctx, topic, env)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, topic).Inc()
		d.logger.WarnwCtx(ctx, "Retrying dispatch",
			"attempt", attempt,
			"next_delay", next,
			"topic", topic,
			"error", err,
		)
	})
	if err != nil {
		err = fmt.Errorf("failed to publish to %s: %w", topic, err)
		tracing.Fail(ctx, err)
		return err
	}
	return nil
}

func singleEnvelope(n SingleNotification) models.MessageEnvelope {
	e := n.Event
	return models.NewEnvelope(string(e.Source), e.Type).
		ID(e.ID).
		At(e.CreatedAt).
		Payload(e.Payload).
		Route("", "", n.ChannelID).
		Decision(n.Decision.Info()).
		Attr("urgency", string(e.Urgency())).
		Attr("content_hash", e.ContentHash).
		Build()
}

func batchEnvelope(b batching.ReadyBatch) models.MessageEnvelope {
	events := make([]interface{}, len(b.Events))
	for i, e := range b.Events {
		events[i] = eventPayload(e)
	}

	builder := models.NewEnvelope(constants.ServiceName, "notification_batch").
		ID(b.ID).
		At(b.FlushedAt).
		Payload(map[string]interface{}{
			"batch_type": b.BatchType,
			"events":     events,
			"summary": map[string]interface{}{
				"count":           b.Summary.Count,
				"highest_urgency": string(b.Summary.HighestUrgency),
				"first_at":        b.Summary.FirstAt,
				"last_at":         b.Summary.LastAt,
				"sources":         b.Summary.Sources,
				"authors":         b.Summary.Authors,
			},
			"created_at": b.CreatedAt,
		}).
		Route("", "", b.ChannelID).
		Attr("flush_reason", string(b.Reason))
	if b.Degraded {
		builder.Attr("degraded", true)
	}
	return builder.Build()
}

func eventPayload(e *event.NotificationEvent) map[string]interface{} {
	return map[string]interface{}{
		"id":         e.ID,
		"source":     string(e.Source),
		"type":       e.Type,
		"urgency":    string(e.Urgency()),
		"payload":    e.Payload,
		"created_at": e.CreatedAt,
	}
}
