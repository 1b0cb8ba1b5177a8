package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/analytics"
	"hush/internal/batching"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
)

func TestMongoSink_WriteAndQuery(t *testing.T) {
	infra := SetupTestInfra(t, Needs{Mongo: true})
	ctx := context.Background()

	recorder := analytics.NewRecorder(config.AnalyticsConfig{BufferSize: 16}, analytics.NewMongoSink(infra.MongoDB), createTestLogger())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = recorder.Run(runCtx)
	}()

	fc := decision.FilterContext{TeamID: "platform", ChannelID: "C1"}
	recorder.RecordDecision(createTestEvent("e1", 1, "ana"), allowDecision(), fc)
	time.Sleep(timestampDelay)
	recorder.RecordDecision(createTestEvent("e2", 1, "bo"), decision.Block(decision.StageRule, "muted", 1).WithRules("r1"), fc)

	e := createTestEvent("e3", 1, "ana")
	recorder.RecordFlush(batching.ReadyBatch{
		ID:        "b1",
		ChannelID: "C1",
		BatchType: "similar",
		Events:    []*event.NotificationEvent{e},
		Reason:    batching.ReasonSize,
		CreatedAt: time.Now(),
		FlushedAt: time.Now(),
	})

	// cancelling drains the buffer into the sink before Run returns
	cancel()
	<-done

	stats := recorder.DecisionStats()
	assert.EqualValues(t, 2, stats.Decisions)
	assert.EqualValues(t, 1, stats.Flushes)

	log := analytics.NewMongoDecisionLog(infra.MongoDB)
	all, err := log.ListDecisions(ctx, analytics.DecisionQuery{TeamID: "platform"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	blocked, err := log.ListDecisions(ctx, analytics.DecisionQuery{Action: string(decision.ActionBlock)})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "e2", blocked[0].EventID)
	assert.Equal(t, []string{"r1"}, blocked[0].AppliedRules)

	flushes, err := log.ListFlushes(ctx, "C1", 10)
	require.NoError(t, err)
	require.Len(t, flushes, 1)
	assert.Equal(t, []string{"e3"}, flushes[0].EventIDs)
	assert.Equal(t, string(batching.ReasonSize), flushes[0].Reason)
}
