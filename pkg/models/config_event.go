package models

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "hush/pkg/errors"
)

// ConfigUpdateEvent tells every replica that a rule or a channel's batch
// settings changed and should be reloaded from the store.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	RuleID      string                 `json:"rule_id,omitempty"`
	TeamID      string                 `json:"team_id,omitempty"`
	ChannelID   string                 `json:"channel_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRuleUpdated        = "rule_updated"
	EventTypeBatchConfigUpdated = "batch_config_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)

const (
	ServiceTypeRules    = "rules"
	ServiceTypeBatching = "batching"
)

// Envelope wraps the event for the config update topic. The event type is
// duplicated into the attributes so consumers can route without decoding.
func (e ConfigUpdateEvent) Envelope(source string) (MessageEnvelope, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to encode config event: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to encode config event: %w", err)
	}

	return NewEnvelope(source, e.EventType).
		At(e.Timestamp).
		Payload(payload).
		Route(e.TeamID, "", e.ChannelID).
		Attr("event_type", e.EventType).
		Attr("service_type", e.ServiceType).
		Build(), nil
}

// DecodeConfigUpdate reverses Envelope. A message without an event type is
// a validation error.
func DecodeConfigUpdate(env MessageEnvelope) (ConfigUpdateEvent, error) {
	var ev ConfigUpdateEvent
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return ev, pkgerrors.ErrValidation.WithCause(err)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, pkgerrors.ErrValidation.WithCause(err)
	}
	if ev.EventType == "" {
		if v, ok := env.Metadata.Attributes["event_type"].(string); ok {
			ev.EventType = v
		}
	}
	if ev.EventType == "" {
		return ev, pkgerrors.ErrValidation.WithDetail("message", "config event has no event_type")
	}
	return ev, nil
}
