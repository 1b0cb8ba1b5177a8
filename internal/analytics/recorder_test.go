package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/batching"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
)

type fakeSink struct {
	mu        sync.Mutex
	decisions []DecisionRecord
	flushes   []FlushRecord
	err       error
}

func (s *fakeSink) WriteDecisions(_ context.Context, records []DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.decisions = append(s.decisions, records...)
	return nil
}

func (s *fakeSink) WriteFlushes(_ context.Context, records []FlushRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.flushes = append(s.flushes, records...)
	return nil
}

func (s *fakeSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions), len(s.flushes)
}

func testEvent(source event.Source) *event.NotificationEvent {
	return event.New(event.Params{
		Source:  source,
		Type:    "status_changed",
		Payload: map[string]interface{}{"author": "alice"},
	})
}

func runRecorder(t *testing.T, r *Recorder) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return cancel, done
}

func TestRecorder_AggregatesDecisions(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(config.AnalyticsConfig{BufferSize: 16}, sink, logger.NopLogger())
	cancel, done := runRecorder(t, r)

	fc := decision.FilterContext{TeamID: "core", ChannelID: "C1"}
	r.RecordDecision(testEvent(event.SourceIssueTracker), decision.Allow(decision.StageDefault, "no applicable rule", 0.5), fc)
	r.RecordDecision(testEvent(event.SourceIssueTracker), decision.Block(decision.StageSuppression, "duplicate", 0.95), fc)
	r.RecordDecision(testEvent(event.SourceCodeReview), decision.Allow(decision.StageHeuristic, "merge conflict", 0.9), decision.FilterContext{})

	require.Eventually(t, func() bool {
		return r.DecisionStats().Decisions == 3
	}, time.Second, 5*time.Millisecond)

	stats := r.DecisionStats()
	assert.Equal(t, int64(2), stats.ByAction["allow"])
	assert.Equal(t, int64(1), stats.ByAction["block"])
	assert.Equal(t, int64(1), stats.ByStage["suppression"])
	assert.Equal(t, int64(2), stats.BySource[string(event.SourceIssueTracker)])
	assert.Equal(t, int64(2), stats.ByTeam["core"])
	assert.Equal(t, int64(2), stats.ByChannel["C1"])
	assert.Len(t, stats.ByTeam, 1, "empty team id is not counted")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	decisions, _ := sink.counts()
	assert.Equal(t, 3, decisions, "buffered records are drained on shutdown")
}

func TestRecorder_RecordFlush(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(config.AnalyticsConfig{}, sink, logger.NopLogger())
	cancel, done := runRecorder(t, r)

	now := time.Now()
	b := batching.ReadyBatch{
		ID:        "b-1",
		ChannelID: "C1",
		BatchType: "code_review/pull_request",
		Events:    []*event.NotificationEvent{testEvent(event.SourceCodeReview), testEvent(event.SourceCodeReview)},
		Summary:   batching.Summary{Count: 2, HighestUrgency: event.UrgencyMedium, Sources: []string{"code_review"}},
		Reason:    batching.ReasonSize,
		CreatedAt: now.Add(-time.Minute),
		FlushedAt: now,
	}
	r.RecordFlush(b)

	require.Eventually(t, func() bool {
		return r.DecisionStats().Flushes == 1
	}, time.Second, 5*time.Millisecond)
	stats := r.DecisionStats()
	assert.Equal(t, int64(2), stats.FlushedEvents)
	assert.Equal(t, int64(1), stats.FlushesByReason[string(batching.ReasonSize)])

	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.flushes, 1)
	rec := sink.flushes[0]
	assert.Equal(t, "b-1", rec.ID)
	assert.Equal(t, 2, rec.Size)
	assert.Equal(t, []string{b.Events[0].ID, b.Events[1].ID}, rec.EventIDs)
	assert.Equal(t, "medium", rec.HighestUrgency)
}

func TestRecorder_DropsWhenBufferFull(t *testing.T) {
	// no worker running, so the buffer fills up
	r := NewRecorder(config.AnalyticsConfig{BufferSize: 2}, nil, logger.NopLogger())
	d := decision.Allow(decision.StageDefault, "no applicable rule", 0.5)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.RecordDecision(testEvent(event.SourceManual), d, decision.FilterContext{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordDecision blocked on a full buffer")
	}
	assert.Equal(t, int64(3), r.DecisionStats().Dropped)
}

func TestRecorder_IgnoresNilEvent(t *testing.T) {
	r := NewRecorder(config.AnalyticsConfig{BufferSize: 1}, nil, logger.NopLogger())
	r.RecordDecision(nil, decision.FilterDecision{}, decision.FilterContext{})
	assert.Len(t, r.records, 0)
}

func TestRecorder_SinkErrorDoesNotStopWorker(t *testing.T) {
	sink := &fakeSink{err: errors.New("mongo down")}
	r := NewRecorder(config.AnalyticsConfig{}, sink, logger.NopLogger())
	cancel, done := runRecorder(t, r)
	defer func() {
		cancel()
		<-done
	}()

	d := decision.Allow(decision.StageDefault, "no applicable rule", 0.5)
	for i := 0; i < 3; i++ {
		r.RecordDecision(testEvent(event.SourceManual), d, decision.FilterContext{})
	}
	require.Eventually(t, func() bool {
		return r.DecisionStats().Decisions == 3
	}, time.Second, 5*time.Millisecond)
}

func TestDecisionStats_IsACopy(t *testing.T) {
	r := NewRecorder(config.AnalyticsConfig{}, nil, logger.NopLogger())
	stats := r.DecisionStats()
	stats.ByAction["allow"] = 42
	assert.Empty(t, r.DecisionStats().ByAction)
}

func TestNewDecisionRecord(t *testing.T) {
	e := testEvent(event.SourceIssueTracker)
	d := decision.Allow(decision.StageRule, "matched", 1).WithRules("r1")
	rec := newDecisionRecord(e, d, decision.FilterContext{TeamID: "core", UserID: "u1", ChannelID: "C1"})

	assert.Equal(t, e.ID, rec.EventID)
	assert.Equal(t, "issue_tracker", rec.Source)
	assert.Equal(t, "rule", rec.Stage)
	assert.Equal(t, []string{"r1"}, rec.AppliedRules)
	assert.Equal(t, "u1", rec.UserID)
	assert.Contains(t, rec.ID, e.ID)
}
