package analytics

import (
	"context"
	"sync"
	"time"

	"hush/internal/batching"
	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/pkg/metrics"
)

const (
	sinkBatchSize     = 100
	sinkFlushInterval = time.Second
	drainTimeout      = 5 * time.Second
)

// DecisionStats is a snapshot of the aggregated counters.
type DecisionStats struct {
	Decisions       int64            `json:"decisions"`
	ByAction        map[string]int64 `json:"by_action"`
	ByStage         map[string]int64 `json:"by_stage"`
	BySource        map[string]int64 `json:"by_source"`
	ByTeam          map[string]int64 `json:"by_team"`
	ByChannel       map[string]int64 `json:"by_channel"`
	Flushes         int64            `json:"flushes"`
	FlushedEvents   int64            `json:"flushed_events"`
	FlushesByReason map[string]int64 `json:"flushes_by_reason"`
	Dropped         int64            `json:"dropped"`
}

func newDecisionStats() DecisionStats {
	return DecisionStats{
		ByAction:        make(map[string]int64),
		ByStage:         make(map[string]int64),
		BySource:        make(map[string]int64),
		ByTeam:          make(map[string]int64),
		ByChannel:       make(map[string]int64),
		FlushesByReason: make(map[string]int64),
	}
}

func (s DecisionStats) clone() DecisionStats {
	out := s
	out.ByAction = cloneCounts(s.ByAction)
	out.ByStage = cloneCounts(s.ByStage)
	out.BySource = cloneCounts(s.BySource)
	out.ByTeam = cloneCounts(s.ByTeam)
	out.ByChannel = cloneCounts(s.ByChannel)
	out.FlushesByReason = cloneCounts(s.FlushesByReason)
	return out
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type record struct {
	decision *DecisionRecord
	flush    *FlushRecord
}

// Recorder is append-only and never blocks its callers: records go through
// a buffered channel and are dropped when it is full. Run aggregates them
// and forwards them to the sink.
type Recorder struct {
	records chan record
	sink    Sink
	logger  logger.Logger

	mu    sync.RWMutex
	stats DecisionStats
}

func NewRecorder(cfg config.AnalyticsConfig, sink Sink, log logger.Logger) *Recorder {
	size := cfg.BufferSize
	if size <= 0 {
		size = constants.DefaultAnalyticsBufferSize
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Recorder{
		records: make(chan record, size),
		sink:    sink,
		logger:  logger.Component(log, "analytics"),
		stats:   newDecisionStats(),
	}
}

func (r *Recorder) RecordDecision(e *event.NotificationEvent, d decision.FilterDecision, fc decision.FilterContext) {
	if e == nil {
		return
	}
	rec := newDecisionRecord(e, d, fc)
	r.enqueue(record{decision: &rec}, "decision")
}

func (r *Recorder) RecordFlush(b batching.ReadyBatch) {
	rec := newFlushRecord(b)
	r.enqueue(record{flush: &rec}, "flush")
}

func (r *Recorder) enqueue(rec record, kind string) {
	select {
	case r.records <- rec:
		metrics.IncAnalyticsRecord(kind, "queued")
		metrics.SetMessageQueueSize("analytics", len(r.records))
	default:
		r.mu.Lock()
		r.stats.Dropped++
		r.mu.Unlock()
		metrics.IncAnalyticsRecord(kind, "dropped")
		r.logger.Warnw("Analytics buffer full, dropping record",
			"kind", kind,
		)
	}
}

// DecisionStats returns a copy of the counters aggregated so far.
func (r *Recorder) DecisionStats() DecisionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.clone()
}

// Run consumes records until ctx is done, then drains what is already
// buffered and writes it with a bounded timeout.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(sinkFlushInterval)
	defer ticker.Stop()

	var (
		decisions []DecisionRecord
		flushes   []FlushRecord
	)
	write := func(ctx context.Context) {
		r.write(ctx, decisions, flushes)
		decisions, flushes = decisions[:0], flushes[:0]
	}

	for {
		select {
		case rec := <-r.records:
			r.aggregate(rec)
			if rec.decision != nil {
				decisions = append(decisions, *rec.decision)
			}
			if rec.flush != nil {
				flushes = append(flushes, *rec.flush)
			}
			if len(decisions)+len(flushes) >= sinkBatchSize {
				write(ctx)
			}
		case <-ticker.C:
			write(ctx)
		case <-ctx.Done():
			for drained := false; !drained; {
				select {
				case rec := <-r.records:
					r.aggregate(rec)
					if rec.decision != nil {
						decisions = append(decisions, *rec.decision)
					}
					if rec.flush != nil {
						flushes = append(flushes, *rec.flush)
					}
				default:
					drained = true
				}
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			write(drainCtx)
			cancel()
			return ctx.Err()
		}
	}
}

func (r *Recorder) aggregate(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := rec.decision; d != nil {
		r.stats.Decisions++
		r.stats.ByAction[d.Action]++
		r.stats.ByStage[d.Stage]++
		r.stats.BySource[d.Source]++
		if d.TeamID != "" {
			r.stats.ByTeam[d.TeamID]++
		}
		if d.ChannelID != "" {
			r.stats.ByChannel[d.ChannelID]++
		}
	}
	if f := rec.flush; f != nil {
		r.stats.Flushes++
		r.stats.FlushedEvents += int64(f.Size)
		r.stats.FlushesByReason[f.Reason]++
	}
}

// write swallows sink errors after logging them.
func (r *Recorder) write(ctx context.Context, decisions []DecisionRecord, flushes []FlushRecord) {
	if len(decisions) > 0 {
		if err := r.sink.WriteDecisions(ctx, decisions); err != nil {
			metrics.IncAnalyticsRecord("decision", "sink_error")
			r.logger.Errorw("Failed to write decision records",
				"count", len(decisions),
				"error", err,
			)
		}
	}
	if len(flushes) > 0 {
		if err := r.sink.WriteFlushes(ctx, flushes); err != nil {
			metrics.IncAnalyticsRecord("flush", "sink_error")
			r.logger.Errorw("Failed to write flush records",
				"count", len(flushes),
				"error", err,
			)
		}
	}
}
