package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/batching"
	"hush/internal/classification"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/dispatch"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/internal/pipeline"
	"hush/internal/suppression"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/models"
	"hush/pkg/retry"
)

type staticDecider struct {
	d decision.FilterDecision
}

func (s staticDecider) ShouldProcess(context.Context, *event.NotificationEvent, decision.FilterContext) decision.FilterDecision {
	return s.d
}

type failingBatcher struct {
	err error
}

func (f failingBatcher) Add(context.Context, *event.NotificationEvent, string, decision.FilterDecision) (*batching.ReadyBatch, error) {
	return nil, f.err
}

type recordingDispatcher struct {
	mu      sync.Mutex
	singles []dispatch.SingleNotification
	batches []batching.ReadyBatch
	err     error
}

func (r *recordingDispatcher) SendSingle(_ context.Context, n dispatch.SingleNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singles = append(r.singles, n)
	return r.err
}

func (r *recordingDispatcher) SendBatch(_ context.Context, b batching.ReadyBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.err
}

var allow = decision.Allow(decision.StageDefault, "no applicable rule", 0.5)

func envelope(id, channelID string) models.MessageEnvelope {
	return models.NewEnvelope("code_review", "comment_created").
		ID(id).
		Payload(map[string]interface{}{
			"pull_request": map[string]interface{}{"number": 12},
			"comment":      map[string]interface{}{"author": "ana"},
		}).
		Route("platform", "u1", channelID).
		Build()
}

func newProcessor(decider Decider, batches Batcher, d *recordingDispatcher) *Processor {
	return New(event.NewHasher("", nil), decider, batches, d, logger.NopLogger())
}

func TestHandleMessage_BlockedEventIsDropped(t *testing.T) {
	d := &recordingDispatcher{}
	block := decision.Block(decision.StageRule, "blocked by rule", 1)
	p := newProcessor(staticDecider{block}, failingBatcher{}, d)

	require.NoError(t, p.HandleMessage(context.Background(), envelope("e1", "C1")))
	assert.Empty(t, d.singles)
	assert.Empty(t, d.batches)
}

func TestHandleMessage_BatchesUntilSizeThreshold(t *testing.T) {
	d := &recordingDispatcher{}
	engine := batching.NewEngine(config.BatchingConfig{MaxBatchSize: 3}, logger.NopLogger())
	p := newProcessor(staticDecider{allow}, engine, d)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, p.HandleMessage(ctx, envelope(id, "C1")))
	}
	assert.Empty(t, d.batches)

	require.NoError(t, p.HandleMessage(ctx, envelope("e3", "C1")))
	require.Len(t, d.batches, 1)

	b := d.batches[0]
	assert.Equal(t, batching.ReasonSize, b.Reason)
	require.Len(t, b.Events, 3)
	assert.Equal(t, "e1", b.Events[0].ID)
	assert.Equal(t, "e3", b.Events[2].ID)
}

func TestHandleMessage_InvalidEnvelopeIsDropped(t *testing.T) {
	d := &recordingDispatcher{}
	p := newProcessor(staticDecider{d: allow}, &failingBatcher{}, d)

	msg := envelope("e1", "C1")
	msg.EventType = ""
	require.NoError(t, p.HandleMessage(context.Background(), msg))
	assert.Empty(t, d.singles)
	assert.Empty(t, d.batches)
}

func TestHandleMessage_NoChannelSendsSingle(t *testing.T) {
	d := &recordingDispatcher{}
	p := newProcessor(staticDecider{allow}, failingBatcher{err: errors.New("unused")}, d)

	require.NoError(t, p.HandleMessage(context.Background(), envelope("e1", "")))
	require.Len(t, d.singles, 1)
	assert.Equal(t, "e1", d.singles[0].Event.ID)
	assert.False(t, d.singles[0].Decision.Degraded)
}

func TestHandleMessage_BatchingFailureFallsBackToSingle(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "capacity", err: pkgerrors.ErrCapacity.WithDetail("limit", "max_channels")},
		{name: "unexpected", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			p := newProcessor(staticDecider{allow}, failingBatcher{err: tt.err}, d)

			require.NoError(t, p.HandleMessage(context.Background(), envelope("e1", "C1")))
			require.Len(t, d.singles, 1)
			assert.True(t, d.singles[0].Decision.Degraded)
			assert.Equal(t, "C1", d.singles[0].ChannelID)
		})
	}
}

func TestHandleMessage_DispatchErrorPropagates(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("kafka down")}
	p := newProcessor(staticDecider{allow}, failingBatcher{}, d)

	err := p.HandleMessage(context.Background(), envelope("e1", ""))
	assert.EqualError(t, err, "kafka down")
}

func TestHandleReady_LogsDispatchFailure(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("kafka down")}
	p := newProcessor(staticDecider{allow}, failingBatcher{}, d)

	p.HandleReady(context.Background(), batching.ReadyBatch{ID: "b1", ChannelID: "C1", Reason: batching.ReasonAge})
	require.Len(t, d.batches, 1)
}

func TestHandleMessage_FinalizedBatchFailureIsFatal(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("kafka down")}
	engine := batching.NewEngine(config.BatchingConfig{MaxBatchSize: 2}, logger.NopLogger())
	p := newProcessor(staticDecider{allow}, engine, d)
	ctx := context.Background()

	require.NoError(t, p.HandleMessage(ctx, envelope("e1", "C1")))
	err := p.HandleMessage(ctx, envelope("e2", "C1"))
	require.Error(t, err)

	var fatal pkgerrors.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.True(t, fatal.IsFatal(), "redelivering e2 cannot rebuild the batch")
}

// flakyPublisher fails the first n sends of each kind.
type flakyPublisher struct {
	mu          sync.Mutex
	failSingles int
	failBatches int
	singles     []dispatch.SingleNotification
	batches     []batching.ReadyBatch
}

func (f *flakyPublisher) SendSingle(_ context.Context, n dispatch.SingleNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSingles > 0 {
		f.failSingles--
		return errors.New("broker unavailable")
	}
	f.singles = append(f.singles, n)
	return nil
}

func (f *flakyPublisher) SendBatch(_ context.Context, b batching.ReadyBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatches > 0 {
		f.failBatches--
		return errors.New("broker unavailable")
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *flakyPublisher) DeadLetterBatch(context.Context, batching.ReadyBatch, error) error {
	return errors.New("no dlq in tests")
}

func commentEnvelope(id, channelID, body string) models.MessageEnvelope {
	return models.NewEnvelope("code_review", "comment_created").
		ID(id).
		Payload(map[string]interface{}{
			"pull_request": map[string]interface{}{"number": 12},
			"comment":      map[string]interface{}{"author": "ana", "body": body},
		}).
		Route("platform", "u1", channelID).
		Build()
}

func newDecisionPipeline() *pipeline.Pipeline {
	suppressor := suppression.NewSuppressor(suppression.NewMemoryStore(), config.SuppressionConfig{}, logger.NopLogger())
	return pipeline.New(classification.NewClassifier(), nil, suppressor, config.FilteringConfig{}, logger.NopLogger())
}

func TestHandleMessage_RedeliveryAfterFailedSingle(t *testing.T) {
	pub := &flakyPublisher{failSingles: 1}
	out := dispatch.NewOutbox(pub, logger.NopLogger())
	p := New(event.NewHasher("", nil), newDecisionPipeline(), failingBatcher{}, out, logger.NopLogger())
	ctx := context.Background()

	msg := commentEnvelope("e1", "", "looks good")
	require.Error(t, p.HandleMessage(ctx, msg), "the consumer must redeliver")
	require.NoError(t, p.HandleMessage(ctx, msg))

	require.Len(t, pub.singles, 1)
	assert.Equal(t, "e1", pub.singles[0].Event.ID)
	assert.NotEqual(t, decision.StageSuppression, pub.singles[0].Decision.Stage, "not a duplicate of itself")
}

func TestHandleMessage_FailedBatchIsRetriedWithAllEvents(t *testing.T) {
	pub := &flakyPublisher{failBatches: 1}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := dispatch.NewOutbox(pub, logger.NopLogger(),
		dispatch.WithOutboxClock(func() time.Time { return now }),
		dispatch.WithOutboxPolicy(retry.Policy{MaxAttempts: 3}),
	)
	engine := batching.NewEngine(config.BatchingConfig{MaxBatchSize: 5}, logger.NopLogger())
	p := New(event.NewHasher("", nil), newDecisionPipeline(), engine, out, logger.NopLogger())
	ctx := context.Background()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%d", i+1)
		require.NoError(t, p.HandleMessage(ctx, commentEnvelope(ids[i], "C1", "comment "+ids[i])))
	}
	assert.Empty(t, pub.batches, "the size flush failed")
	assert.Equal(t, 1, out.Pending())

	out.RetryDue(ctx)

	require.Len(t, pub.batches, 1)
	b := pub.batches[0]
	assert.Equal(t, batching.ReasonSize, b.Reason)
	got := make([]string, len(b.Events))
	for i, e := range b.Events {
		got[i] = e.ID
	}
	assert.Equal(t, ids, got)
	assert.Zero(t, out.Pending())
}

type capturingProducer struct {
	mu       sync.Mutex
	messages []models.MessageEnvelope
}

func (c *capturingProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capturingProducer) Close() error { return nil }

func TestHandleMessage_CriticalEventKeepsItsDecision(t *testing.T) {
	producer := &capturingProducer{}
	kd := dispatch.NewKafkaDispatcher(producer, config.KafkaConfig{}, logger.NopLogger())
	engine := batching.NewEngine(config.BatchingConfig{}, logger.NopLogger())
	p := New(event.NewHasher("", nil), newDecisionPipeline(), engine, dispatch.NewOutbox(kd, logger.NopLogger()), logger.NopLogger())

	msg := models.NewEnvelope("issue_tracker", "issue_updated").
		ID("e1").
		Payload(map[string]interface{}{
			"issue": map[string]interface{}{"key": "OPS-1", "priority": "Critical"},
		}).
		Route("platform", "u1", "C1").
		Build()
	require.NoError(t, p.HandleMessage(context.Background(), msg))

	require.Len(t, producer.messages, 1)
	out := producer.messages[0]
	assert.Equal(t, "e1", out.ID)
	require.NotNil(t, out.Metadata.Decision)
	assert.Equal(t, string(decision.StageCriticalOverride), out.Metadata.Decision.Stage)
	assert.Equal(t, []string{pipeline.RuleCriticalOverride}, out.Metadata.Decision.AppliedRules)
	assert.False(t, out.Metadata.Decision.Degraded)
}
