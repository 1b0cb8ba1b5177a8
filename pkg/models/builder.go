package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeBuilder assembles an envelope for publishing. The zero ID and
// timestamp are filled in by Build.
type EnvelopeBuilder struct {
	env MessageEnvelope
}

func NewEnvelope(source, eventType string) *EnvelopeBuilder {
	return &EnvelopeBuilder{env: MessageEnvelope{
		Source:    source,
		EventType: eventType,
		Payload:   map[string]interface{}{},
	}}
}

func (b *EnvelopeBuilder) ID(id string) *EnvelopeBuilder {
	b.env.ID = id
	return b
}

func (b *EnvelopeBuilder) At(ts time.Time) *EnvelopeBuilder {
	b.env.Timestamp = ts
	return b
}

// Payload replaces the payload; nil leaves an empty one.
func (b *EnvelopeBuilder) Payload(payload map[string]interface{}) *EnvelopeBuilder {
	if payload != nil {
		b.env.Payload = payload
	}
	return b
}

// Route sets who the envelope concerns and which channel it is headed for.
func (b *EnvelopeBuilder) Route(teamID, userID, channelID string) *EnvelopeBuilder {
	b.env.Metadata.TeamID = teamID
	b.env.Metadata.UserID = userID
	b.env.Metadata.ChannelID = channelID
	return b
}

func (b *EnvelopeBuilder) Signals(signals map[string]bool) *EnvelopeBuilder {
	b.env.Metadata.Signals = signals
	return b
}

func (b *EnvelopeBuilder) Decision(info *DecisionInfo) *EnvelopeBuilder {
	b.env.Metadata.Decision = info
	return b
}

func (b *EnvelopeBuilder) Attr(name string, value interface{}) *EnvelopeBuilder {
	b.env.SetAttribute(name, value)
	return b
}

func (b *EnvelopeBuilder) Build() MessageEnvelope {
	env := b.env
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return env
}
