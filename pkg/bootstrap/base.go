package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"hush/internal/broker"
	"hush/internal/config"
	"hush/internal/logger"
)

// Base owns the broker clients shared by the service: one producer and one
// consumer per subscribed topic.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Producer  broker.Producer
	Consumers map[string]broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:    cfg,
		Logger:    log,
		Consumers: make(map[string]broker.Consumer),
	}
}

func (b *Base) InitBroker(serviceName string, topics ...string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer

	for _, topic := range topics {
		if topic == "" {
			continue
		}
		consumer, err := broker.NewConsumer(b.Config.Broker, serviceName, b.Logger)
		if err != nil {
			b.ShutdownBroker()
			return fmt.Errorf("failed to create consumer for %s: %w", topic, err)
		}
		b.Consumers[topic] = consumer
	}
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	for topic, consumer := range b.Consumers {
		if err := consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer %s close error: %w", topic, err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

// Shutdown runs additionalShutdown before closing the broker so pending
// batches can still be published.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker()...)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
