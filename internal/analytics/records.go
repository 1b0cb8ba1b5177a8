package analytics

import (
	"time"

	"hush/internal/batching"
	"hush/internal/decision"
	"hush/internal/event"
)

// DecisionRecord is one append-only row of the decision log.
type DecisionRecord struct {
	ID           string    `bson:"_id" json:"id"`
	EventID      string    `bson:"event_id" json:"event_id"`
	Source       string    `bson:"source" json:"source"`
	EventType    string    `bson:"event_type" json:"event_type"`
	TeamID       string    `bson:"team_id,omitempty" json:"team_id,omitempty"`
	ChannelID    string    `bson:"channel_id,omitempty" json:"channel_id,omitempty"`
	UserID       string    `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Action       string    `bson:"action" json:"action"`
	Stage        string    `bson:"stage" json:"stage"`
	Reason       string    `bson:"reason" json:"reason"`
	Confidence   float64   `bson:"confidence" json:"confidence"`
	AppliedRules []string  `bson:"applied_rules" json:"applied_rules"`
	Urgency      string    `bson:"urgency" json:"urgency"`
	Degraded     bool      `bson:"degraded,omitempty" json:"degraded,omitempty"`
	DecidedAt    time.Time `bson:"decided_at" json:"decided_at"`
}

// FlushRecord describes one ReadyBatch handed to dispatch.
type FlushRecord struct {
	ID             string    `bson:"_id" json:"batch_id"`
	ChannelID      string    `bson:"channel_id" json:"channel_id"`
	BatchType      string    `bson:"batch_type" json:"batch_type"`
	Reason         string    `bson:"reason" json:"reason"`
	Size           int       `bson:"size" json:"size"`
	HighestUrgency string    `bson:"highest_urgency" json:"highest_urgency"`
	Sources        []string  `bson:"sources" json:"sources"`
	Authors        []string  `bson:"authors,omitempty" json:"authors,omitempty"`
	EventIDs       []string  `bson:"event_ids" json:"event_ids"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	FlushedAt      time.Time `bson:"flushed_at" json:"flushed_at"`
}

func newDecisionRecord(e *event.NotificationEvent, d decision.FilterDecision, fc decision.FilterContext) DecisionRecord {
	return DecisionRecord{
		ID:           e.ID + ":" + d.DecidedAt.Format(time.RFC3339Nano),
		EventID:      e.ID,
		Source:       string(e.Source),
		EventType:    e.Type,
		TeamID:       fc.TeamID,
		ChannelID:    fc.ChannelID,
		UserID:       fc.UserID,
		Action:       string(d.Action),
		Stage:        string(d.Stage),
		Reason:       d.Reason,
		Confidence:   d.Confidence,
		AppliedRules: append([]string(nil), d.AppliedRules...),
		Urgency:      string(e.Urgency()),
		Degraded:     d.Degraded,
		DecidedAt:    d.DecidedAt,
	}
}

func newFlushRecord(b batching.ReadyBatch) FlushRecord {
	ids := make([]string, len(b.Events))
	for i, e := range b.Events {
		ids[i] = e.ID
	}
	return FlushRecord{
		ID:             b.ID,
		ChannelID:      b.ChannelID,
		BatchType:      b.BatchType,
		Reason:         string(b.Reason),
		Size:           len(b.Events),
		HighestUrgency: string(b.Summary.HighestUrgency),
		Sources:        b.Summary.Sources,
		Authors:        b.Summary.Authors,
		EventIDs:       ids,
		CreatedAt:      b.CreatedAt,
		FlushedAt:      b.FlushedAt,
	}
}
