package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/logger"
	"hush/pkg/metrics"
	"hush/pkg/models"
	"hush/pkg/tracing"
)

const (
	headerSource    = "hush-source"
	headerEventType = "hush-event-type"
)

// KafkaProducer writes envelopes keyed by channel, so everything headed for
// one channel lands on one partition in publish order.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           constants.KafkaBatchTimeout,
			WriteTimeout:           constants.KafkaWriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: log,
	}
}

// messageKey partitions by channel and falls back to the envelope ID for
// messages with no channel.
func messageKey(msg models.MessageEnvelope) []byte {
	if msg.Metadata.ChannelID != "" {
		return []byte(msg.Metadata.ChannelID)
	}
	return []byte(msg.ID)
}

func envelopeHeaders(ctx context.Context, msg models.MessageEnvelope) []kafka.Header {
	headers := make([]kafka.Header, 0, 4)
	if msg.Source != "" {
		headers = append(headers, kafka.Header{Key: headerSource, Value: []byte(msg.Source)})
	}
	if msg.EventType != "" {
		headers = append(headers, kafka.Header{Key: headerEventType, Value: []byte(msg.EventType)})
	}
	return tracing.InjectTraceContext(ctx, headers)
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", msg.ID, err)
	}

	ctx, span := tracing.StartProduceSpan(ctx, topic)
	defer span.End()

	err = p.write(ctx, kafka.Message{
		Topic:   topic,
		Key:     messageKey(msg),
		Value:   body,
		Headers: envelopeHeaders(ctx, msg),
	})
	tracing.Fail(ctx, err)
	return err
}

func (p *KafkaProducer) write(ctx context.Context, m kafka.Message) error {
	m.Time = time.Now()
	start := m.Time
	if err := p.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to write to %s: %w", m.Topic, err)
	}

	metrics.ObserveKafkaWriteDuration(constants.ServiceName, m.Topic, time.Since(start))
	metrics.ObserveKafkaMessageSize(constants.ServiceName, m.Topic, "out", len(m.Value))
	metrics.IncKafkaMessagesWritten(constants.ServiceName, m.Topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
