package integration

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/batching"
	"hush/internal/broker"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/dispatch"
	"hush/internal/event"
	"hush/pkg/models"
)

func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		configs[i] = kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}
	}
	require.NoError(t, ctrl.CreateTopics(configs...))
}

func TestKafkaDispatcher_RoundTrip(t *testing.T) {
	infra := SetupTestInfra(t, Needs{Kafka: true})

	cfg := config.KafkaConfig{
		Brokers:     infra.KafkaBrokers,
		GroupID:     "hush-it",
		SingleTopic: "it.single",
		BatchTopic:  "it.batched",
	}
	createTopics(t, cfg.Brokers, cfg.SingleTopic, cfg.BatchTopic)

	producer := broker.NewKafkaProducer(cfg, createTestLogger())
	t.Cleanup(func() { producer.Close() })
	dispatcher := dispatch.NewKafkaDispatcher(producer, cfg, createTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	single := createTestEvent("s1", 21, "ana")
	require.NoError(t, dispatcher.SendSingle(ctx, dispatch.SingleNotification{
		Event:     single,
		Decision:  allowDecision(),
		ChannelID: "C1",
	}))
	require.NoError(t, dispatcher.SendBatch(ctx, batching.ReadyBatch{
		ID:        "b1",
		ChannelID: "C1",
		BatchType: "similar",
		Events:    []*event.NotificationEvent{createTestEvent("e1", 22, "ana"), createTestEvent("e2", 22, "ana")},
		Reason:    batching.ReasonAge,
		CreatedAt: time.Now(),
		FlushedAt: time.Now(),
	}))

	singles := consumeOne(t, ctx, cfg, cfg.SingleTopic)
	assert.Equal(t, "s1", singles.ID)
	assert.Equal(t, "C1", singles.Metadata.ChannelID)
	require.NotNil(t, singles.Metadata.Decision)
	assert.Equal(t, string(decision.ActionAllow), singles.Metadata.Decision.Action)

	batch := consumeOne(t, ctx, cfg, cfg.BatchTopic)
	assert.Equal(t, "b1", batch.ID)
	assert.Equal(t, "notification_batch", batch.EventType)
	assert.Equal(t, string(batching.ReasonAge), batch.Metadata.Attributes["flush_reason"])
	events, ok := batch.Payload["events"].([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 2)
}

func consumeOne(t *testing.T, ctx context.Context, cfg config.KafkaConfig, topic string) models.MessageEnvelope {
	t.Helper()

	consumer := broker.NewKafkaConsumer(cfg, createTestLogger())
	consumer.SetServiceName("integration")

	received := make(chan models.MessageEnvelope, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = consumer.Consume(consumeCtx, topic, func(_ context.Context, msg models.MessageEnvelope) error {
			select {
			case received <- msg:
			default:
			}
			return nil
		})
	}()
	defer consumer.Close()

	select {
	case msg := <-received:
		return msg
	case <-ctx.Done():
		t.Fatalf("timed out waiting for a message on %s", topic)
		return models.MessageEnvelope{}
	}
}
