package batching

import (
	"fmt"
	"time"

	"hush/internal/event"
	pkgerrors "hush/pkg/errors"
)

// ErrNotAllowed is returned by Add for events whose decision did not allow
// processing.
var ErrNotAllowed = pkgerrors.ErrValidation.WithDetail("message", "only allowed events can be batched")

type State string

const (
	StateOpen     State = "open"
	StateFlushing State = "flushing"
	StateClosed   State = "closed"
)

type FlushReason string

const (
	ReasonSize     FlushReason = "size"
	ReasonAge      FlushReason = "age"
	ReasonExplicit FlushReason = "explicit"
	ReasonShutdown FlushReason = "shutdown"
	// ReasonBypass and ReasonDegraded mark single-member batches that never
	// entered a group.
	ReasonBypass   FlushReason = "bypass"
	ReasonDegraded FlushReason = "degraded"
)

// Unbatched reports whether the batch carries one event that skipped grouping.
func (r FlushReason) Unbatched() bool {
	return r == ReasonBypass || r == ReasonDegraded
}

// BatchGroup accumulates similar events for one channel. It is only touched
// with its channel's lock held.
type BatchGroup struct {
	ID           string
	ChannelID    string
	BatchType    string
	BucketKey    string
	Members      []*event.NotificationEvent
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	State        State
	// thresholds are fixed when the group opens
	MaxSize int
	MaxAge  time.Duration
}

// advance moves the group forward through open, flushing and closed.
func (g *BatchGroup) advance(to State) error {
	switch {
	case g.State == StateOpen && to == StateFlushing,
		g.State == StateFlushing && to == StateClosed:
		g.State = to
		return nil
	}
	return fmt.Errorf("batch group %s: invalid transition %s -> %s", g.ID, g.State, to)
}

func (g *BatchGroup) representative() *event.NotificationEvent {
	return g.Members[0]
}

type Summary struct {
	Count          int           `json:"count"`
	HighestUrgency event.Urgency `json:"highest_urgency"`
	FirstAt        time.Time     `json:"first_at"`
	LastAt         time.Time     `json:"last_at"`
	Sources        []string      `json:"sources"`
	Authors        []string      `json:"authors,omitempty"`
}

// ReadyBatch is a finalized group handed to dispatch. Events keep arrival order.
type ReadyBatch struct {
	ID        string                     `json:"batch_id"`
	ChannelID string                     `json:"channel_id"`
	BatchType string                     `json:"batch_type"`
	Events    []*event.NotificationEvent `json:"events"`
	Summary   Summary                    `json:"summary"`
	Reason    FlushReason                `json:"reason"`
	Degraded  bool                       `json:"degraded,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	FlushedAt time.Time                  `json:"flushed_at"`
}

func summarize(events []*event.NotificationEvent) Summary {
	s := Summary{Count: len(events), HighestUrgency: event.UrgencyUnknown}
	seenSource := make(map[string]bool)
	seenAuthor := make(map[string]bool)

	for i, e := range events {
		if i == 0 || e.CreatedAt.Before(s.FirstAt) {
			s.FirstAt = e.CreatedAt
		}
		if i == 0 || e.CreatedAt.After(s.LastAt) {
			s.LastAt = e.CreatedAt
		}
		if u := e.Urgency(); u.Rank() > s.HighestUrgency.Rank() {
			s.HighestUrgency = u
		}
		if src := string(e.Source); !seenSource[src] {
			seenSource[src] = true
			s.Sources = append(s.Sources, src)
		}
		if a := e.Author(); a != "" && !seenAuthor[a] {
			seenAuthor[a] = true
			s.Authors = append(s.Authors, a)
		}
	}
	return s
}

// ChannelStats is a point-in-time view of one channel.
type ChannelStats struct {
	ChannelID        string    `json:"channel_id"`
	OpenGroups       int       `json:"open_groups"`
	PendingEvents    int       `json:"pending_events"`
	EventsAdded      int64     `json:"events_added"`
	BatchesFlushed   int64     `json:"batches_flushed"`
	AverageBatchSize float64   `json:"average_batch_size"`
	LastActivity     time.Time `json:"last_activity"`
	MaxBatchSize     int       `json:"max_batch_size"`
	MaxBatchAge      string    `json:"max_batch_age"`
}
