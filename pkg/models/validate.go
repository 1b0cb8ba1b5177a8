package models

import (
	"fmt"

	pkgerrors "hush/pkg/errors"
)

// ValidationError names the first envelope field that failed. It unwraps to
// the validation sentinel so callers can use pkg/errors.IsValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope field %q: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return pkgerrors.ErrValidation
}

var envelopeChecks = []struct {
	field   string
	message string
	missing func(*MessageEnvelope) bool
}{
	{"id", "required", func(m *MessageEnvelope) bool { return m.ID == "" }},
	{"source", "required", func(m *MessageEnvelope) bool { return m.Source == "" }},
	{"event_type", "required", func(m *MessageEnvelope) bool { return m.EventType == "" }},
	{"timestamp", "required", func(m *MessageEnvelope) bool { return m.Timestamp.IsZero() }},
	{"payload", "must be an object", func(m *MessageEnvelope) bool { return m.Payload == nil }},
}

// ValidateMessageEnvelope checks what the pipeline needs before it can turn
// an envelope into an event.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{Field: "envelope", Message: "missing"}
	}
	for _, c := range envelopeChecks {
		if c.missing(msg) {
			return &ValidationError{Field: c.field, Message: c.message}
		}
	}
	return nil
}

func (msg *MessageEnvelope) SetAttribute(name string, value interface{}) {
	if msg.Metadata.Attributes == nil {
		msg.Metadata.Attributes = make(map[string]interface{})
	}
	msg.Metadata.Attributes[name] = value
}
