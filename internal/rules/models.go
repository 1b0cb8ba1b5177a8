package rules

import (
	"time"

	"hush/internal/decision"
	"hush/internal/event"
)

// FilterRule is administrator configuration. Exactly one of Condition or
// Expression drives matching; an empty Condition matches every event.
type FilterRule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	TeamID     string          `json:"team_id"`
	ChannelID  string          `json:"channel_id,omitempty"`
	Condition  *Condition      `json:"condition,omitempty"`
	Expression string          `json:"expression,omitempty"` // CEL, must evaluate to bool
	Action     decision.Action `json:"action"`
	Urgency    event.Urgency   `json:"urgency,omitempty"` // only for modify_urgency
	Priority   int             `json:"priority"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Outcome is the result of evaluating a ruleset against one event. A
// matched allow or block rule sets Decision; a matched modify_urgency rule
// only sets UrgencyOverride.
type Outcome struct {
	Matched         bool
	RuleID          string
	Decision        *decision.FilterDecision
	UrgencyOverride event.Urgency
	Evaluated       int
	Errors          int
}

// less orders rules by priority descending, then id ascending.
func less(a, b FilterRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}
