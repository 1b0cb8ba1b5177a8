// Package broker moves message envelopes between the notification service
// and the topics around it: inbound events, config updates, and the single
// and batched outbound streams.
package broker

import (
	"context"
	"fmt"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers envelopes from one topic to a handler until the
// context passed to Consume is done.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc returning an error asks the consumer to retry the envelope.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if err := supported(cfg); err != nil {
		return nil, err
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

// NewConsumer builds a consumer labelled with serviceName in logs and
// metrics.
func NewConsumer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Consumer, error) {
	if err := supported(cfg); err != nil {
		return nil, err
	}
	c := NewKafkaConsumer(cfg.Kafka, log)
	if serviceName != "" {
		c.SetServiceName(serviceName)
	}
	return c, nil
}

func supported(cfg config.BrokerConfig) error {
	if cfg.Type != "" && cfg.Type != constants.BrokerKafka {
		return pkgerrors.ErrConfiguration.WithDetail("message", fmt.Sprintf("unknown broker type: %s", cfg.Type))
	}
	return nil
}
