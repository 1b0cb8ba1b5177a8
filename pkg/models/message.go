package models

import "time"

type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`  // Provider data
	Metadata  Metadata               `json:"metadata"` // Routing and pipeline metadata
}

type Metadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	TeamID     string                 `json:"team_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	ChannelID  string                 `json:"channel_id,omitempty"`
	Signals    map[string]bool        `json:"signals,omitempty"`
	Decision   *DecisionInfo          `json:"decision,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// DecisionInfo is attached to outbound envelopes so the dispatch side can
// see why a notification was let through.
type DecisionInfo struct {
	Action          string    `json:"action"`
	Stage           string    `json:"stage"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	AppliedRules    []string  `json:"applied_rules,omitempty"`
	UrgencyOverride string    `json:"urgency_override,omitempty"`
	Degraded        bool      `json:"degraded,omitempty"`
	DecidedAt       time.Time `json:"decided_at"`
}
