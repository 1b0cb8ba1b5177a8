package event

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type Source string

const (
	SourceIssueTracker Source = "issue_tracker"
	SourceCodeReview   Source = "code_review"
	SourceManual       Source = "manual"
)

// ParseSource maps provider names onto the three known sources. Anything
// unrecognised is treated as manual.
func ParseSource(s string) Source {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "issue_tracker", "jira", "linear", "youtrack":
		return SourceIssueTracker
	case "code_review", "github", "gitlab", "bitbucket":
		return SourceCodeReview
	default:
		return SourceManual
	}
}

type Urgency string

const (
	UrgencyUnknown  Urgency = "unknown"
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies; unknown ranks lowest.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	default:
		return 0
	}
}

func (u Urgency) Valid() bool {
	return u.Rank() > 0
}

func ParseUrgency(s string) Urgency {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if u.Valid() {
		return u
	}
	return UrgencyUnknown
}

// NotificationEvent is one external occurrence awaiting a decision.
// Payload and Metadata must be treated as read-only once the event is built.
type NotificationEvent struct {
	ID             string
	Source         Source
	Type           string
	Payload        map[string]interface{}
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	ContentHash    string
	SimilarityHash string

	mu      sync.RWMutex
	urgency Urgency
	frozen  bool
}

func (e *NotificationEvent) Urgency() Urgency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.urgency
}

// SetUrgency reports whether the urgency was changed. Frozen events ignore it.
func (e *NotificationEvent) SetUrgency(u Urgency) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return false
	}
	e.urgency = u
	return true
}

func (e *NotificationEvent) Freeze() {
	e.mu.Lock()
	e.frozen = true
	e.mu.Unlock()
}

func (e *NotificationEvent) Frozen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frozen
}

// Fields returns the top-level attributes as a map for rule evaluation.
func (e *NotificationEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":              e.ID,
		"source":          string(e.Source),
		"type":            e.Type,
		"urgency":         string(e.Urgency()),
		"created_at":      e.CreatedAt,
		"content_hash":    e.ContentHash,
		"similarity_hash": e.SimilarityHash,
		"subject_id":      e.SubjectID(),
		"subject_type":    e.SubjectType(),
		"author":          e.Author(),
	}
}

type eventJSON struct {
	ID             string                 `json:"id"`
	Source         Source                 `json:"source"`
	Type           string                 `json:"type"`
	Urgency        Urgency                `json:"urgency"`
	Payload        map[string]interface{} `json:"payload"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	ContentHash    string                 `json:"content_hash"`
	SimilarityHash string                 `json:"similarity_hash"`
}

func (e *NotificationEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:             e.ID,
		Source:         e.Source,
		Type:           e.Type,
		Urgency:        e.Urgency(),
		Payload:        e.Payload,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
		ContentHash:    e.ContentHash,
		SimilarityHash: e.SimilarityHash,
	})
}

func (e *NotificationEvent) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Source = raw.Source
	e.Type = raw.Type
	e.Payload = raw.Payload
	e.Metadata = raw.Metadata
	e.CreatedAt = raw.CreatedAt
	e.ContentHash = raw.ContentHash
	e.SimilarityHash = raw.SimilarityHash
	e.mu.Lock()
	e.urgency = raw.Urgency
	e.mu.Unlock()
	return nil
}
