package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"hush/internal/config"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/logging"
	"hush/pkg/metrics"
	"hush/pkg/models"
	"hush/pkg/retry"
	"hush/pkg/tracing"
)

const (
	dlqReasonExhausted = "max_retries_exceeded"
	dlqReasonFatal     = "fatal_error"
	dlqReasonDecode    = "decode_failed"
)

// fetchPolicy paces the reader after consecutive fetch errors.
var fetchPolicy = retry.Policy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	Multiplier:      2,
}

// KafkaConsumer reads one topic per Consume call. Every fetched message is
// committed exactly once after handling, whatever the outcome; failures are
// parked on the DLQ when one is configured.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	logger      logger.Logger
	serviceName string
	dlq         *KafkaProducer

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		logger:      logger.Component(log, "broker"),
		serviceName: "unknown",
	}
	if cfg.DLQTopic != "" {
		c.dlq = NewKafkaProducer(cfg, log)
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        c.cfg.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	})
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	ctx = logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(ctx, "Consuming topic",
		"topic", topic,
		"group_id", c.cfg.GroupID,
		"brokers", c.cfg.Brokers,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx, reader, topic, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) loop(ctx context.Context, reader *kafka.Reader, topic string, handler HandlerFunc) {
	failures := 0
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			// io.EOF means Close was called on the reader.
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic)
				return
			}
			delay := fetchPolicy.Delay(failures)
			failures++
			c.logger.ErrorwCtx(ctx, "Kafka fetch failed",
				"topic", topic,
				"consecutive_failures", failures,
				"next_delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		metrics.ObserveKafkaMessageSize(c.serviceName, topic, "in", len(m.Value))

		c.handle(ctx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit message",
				"topic", topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	ctx, span := tracing.StartConsumeSpan(ctx, m.Topic, m.Headers)
	defer span.End()

	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		tracing.Fail(ctx, err)
		c.logger.ErrorwCtx(ctx, "Undecodable message",
			"topic", m.Topic,
			"offset", m.Offset,
			"error", err,
		)
		c.deadLetterRaw(ctx, m, err)
		return
	}

	if envelope.Metadata.TraceID != "" {
		ctx = logging.WithTraceID(ctx, envelope.Metadata.TraceID)
	}
	ctx = logging.WithEventID(ctx, envelope.ID)

	err := c.deliver(ctx, envelope, handler, m.Topic)
	if err == nil {
		return
	}
	tracing.Fail(ctx, err)

	reason := dlqReasonExhausted
	var fatal pkgerrors.FatalError
	if errors.As(err, &fatal) && fatal.IsFatal() {
		reason = dlqReasonFatal
	}
	c.logger.ErrorwCtx(ctx, "Giving up on message",
		"topic", m.Topic,
		"reason", reason,
		"error", err,
	)
	c.deadLetter(ctx, envelope, err, m.Topic, reason)
}

// deliver retries the handler under the configured policy. A panicking
// handler counts as a fatal failure.
func (c *KafkaConsumer) deliver(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc, topic string) error {
	policy := retry.FromConfig(c.cfg.Retry, retry.DefaultPolicy())

	return retry.RetryWithCallback(ctx, policy, func() error {
		return pkgerrors.Guard(func() error { return handler(ctx, envelope) })
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message",
			"topic", topic,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, envelope models.MessageEnvelope, cause error, sourceTopic, reason string) {
	if c.dlq == nil {
		c.logger.WarnwCtx(ctx, "No DLQ configured, dropping message", "topic", sourceTopic)
		return
	}
	envelope.SetAttribute("dlq_reason", reason)
	envelope.SetAttribute("dlq_error", cause.Error())
	envelope.SetAttribute("dlq_source_topic", sourceTopic)
	envelope.SetAttribute("dlq_timestamp", time.Now().UTC())

	if err := c.dlq.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to publish to DLQ", "topic", sourceTopic, "error", err)
		return
	}
	c.parked(ctx, sourceTopic, reason)
}

// deadLetterRaw forwards bytes that never decoded, with the reason in
// headers since there is no envelope to annotate.
func (c *KafkaConsumer) deadLetterRaw(ctx context.Context, m kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	headers := append(m.Headers[:len(m.Headers):len(m.Headers)],
		kafka.Header{Key: "dlq_reason", Value: []byte(dlqReasonDecode)},
		kafka.Header{Key: "dlq_error", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlq_source_topic", Value: []byte(m.Topic)},
	)
	err := c.dlq.write(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to publish to DLQ", "topic", m.Topic, "error", err)
		return
	}
	c.parked(ctx, m.Topic, dlqReasonDecode)
}

func (c *KafkaConsumer) parked(ctx context.Context, sourceTopic, reason string) {
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)
}

// Close stops every reader opened by Consume and waits for their loops.
func (c *KafkaConsumer) Close() error {
	var errs []error
	c.mu.Lock()
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.readers = nil
	c.mu.Unlock()

	c.wg.Wait()

	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("kafka consumer close: %v", errs)
	}
	return nil
}
