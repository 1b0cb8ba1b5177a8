package management

import (
	"hush/internal/decision"
	"hush/internal/rules"
)

type CreateRuleRequest struct {
	Name       string           `json:"name" binding:"required"`
	TeamID     string           `json:"team_id"`
	ChannelID  string           `json:"channel_id"`
	Condition  *rules.Condition `json:"condition"`
	Expression string           `json:"expression"`
	Action     string           `json:"action" binding:"required"`
	Urgency    string           `json:"urgency"`
	Priority   int              `json:"priority"`
	Enabled    *bool            `json:"enabled"`
}

type UpdateRuleRequest struct {
	Name       *string          `json:"name"`
	ChannelID  *string          `json:"channel_id"`
	Condition  *rules.Condition `json:"condition"`
	Expression *string          `json:"expression"`
	Action     *string          `json:"action"`
	Urgency    *string          `json:"urgency"`
	Priority   *int             `json:"priority"`
	Enabled    *bool            `json:"enabled"`
}

// BatchConfigRequest overrides batching thresholds for one channel. Zero
// values fall back to the service defaults.
type BatchConfigRequest struct {
	MaxBatchSize int    `json:"max_batch_size"`
	MaxBatchAge  string `json:"max_batch_age" example:"5m"`
}

type BatchConfigResponse struct {
	ChannelID    string `json:"channel_id"`
	MaxBatchSize int    `json:"max_batch_size"`
	MaxBatchAge  string `json:"max_batch_age"`
}

type FlushResponse struct {
	ChannelID string   `json:"channel_id"`
	Batches   int      `json:"batches"`
	Events    int      `json:"events"`
	BatchIDs  []string `json:"batch_ids"`
}

// EvaluateRequest is an inbound event in the same shape as the Kafka
// envelope, plus the filter context.
type EvaluateRequest struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
	TeamID    string                 `json:"team_id"`
	UserID    string                 `json:"user_id"`
	ChannelID string                 `json:"channel_id"`
	Signals   map[string]bool        `json:"signals"`
}

type EvaluateResponse struct {
	EventID  string                  `json:"event_id"`
	Urgency  string                  `json:"urgency"`
	Decision decision.FilterDecision `json:"decision"`
}
