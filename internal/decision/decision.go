package decision

import (
	"time"

	"hush/internal/event"
	"hush/pkg/models"
)

type Action string

const (
	ActionAllow         Action = "allow"
	ActionBlock         Action = "block"
	ActionModifyUrgency Action = "modify_urgency"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionModifyUrgency:
		return true
	}
	return false
}

// Stage names the pipeline step that concluded a decision.
type Stage string

const (
	StageCriticalOverride Stage = "critical_override"
	StageRule             Stage = "rule"
	StageSuppression      Stage = "suppression"
	StageHeuristic        Stage = "heuristic"
	StageDefault          Stage = "default"
	StageFailOpen         Stage = "fail_open"
)

// FilterDecision is immutable once returned by the pipeline; use the
// With* helpers to derive a modified copy.
type FilterDecision struct {
	ShouldProcess   bool          `json:"should_process"`
	Action          Action        `json:"action"`
	Reason          string        `json:"reason"`
	Confidence      float64       `json:"confidence"`
	AppliedRules    []string      `json:"applied_rules"`
	UrgencyOverride event.Urgency `json:"urgency_override,omitempty"`
	Stage           Stage         `json:"stage"`
	Degraded        bool          `json:"degraded,omitempty"`
	DecidedAt       time.Time     `json:"decided_at"`
}

func Allow(stage Stage, reason string, confidence float64) FilterDecision {
	return FilterDecision{
		ShouldProcess: true,
		Action:        ActionAllow,
		Reason:        reason,
		Confidence:    confidence,
		AppliedRules:  []string{},
		Stage:         stage,
		DecidedAt:     time.Now(),
	}
}

func Block(stage Stage, reason string, confidence float64) FilterDecision {
	return FilterDecision{
		ShouldProcess: false,
		Action:        ActionBlock,
		Reason:        reason,
		Confidence:    confidence,
		AppliedRules:  []string{},
		Stage:         stage,
		DecidedAt:     time.Now(),
	}
}

func (d FilterDecision) Allowed() bool {
	return d.ShouldProcess && d.Action == ActionAllow
}

func (d FilterDecision) WithRules(ids ...string) FilterDecision {
	rules := make([]string, 0, len(d.AppliedRules)+len(ids))
	rules = append(rules, d.AppliedRules...)
	rules = append(rules, ids...)
	d.AppliedRules = rules
	return d
}

func (d FilterDecision) WithUrgency(u event.Urgency) FilterDecision {
	d.UrgencyOverride = u
	return d
}

func (d FilterDecision) AsDegraded() FilterDecision {
	d.Degraded = true
	d.AppliedRules = append([]string{}, d.AppliedRules...)
	return d
}

// Info converts the decision for an outbound envelope.
func (d FilterDecision) Info() *models.DecisionInfo {
	return &models.DecisionInfo{
		Action:          string(d.Action),
		Stage:           string(d.Stage),
		Reason:          d.Reason,
		Confidence:      d.Confidence,
		AppliedRules:    append([]string(nil), d.AppliedRules...),
		UrgencyOverride: string(d.UrgencyOverride),
		Degraded:        d.Degraded,
		DecidedAt:       d.DecidedAt,
	}
}

// FilterContext carries caller supplied scope for one decision.
type FilterContext struct {
	TeamID              string          `json:"team_id"`
	UserID              string          `json:"user_id"`
	ChannelID           string          `json:"channel_id"`
	RequesterIsAssignee bool            `json:"requester_is_assignee"`
	RequesterIsReporter bool            `json:"requester_is_reporter"`
	RequesterIsAuthor   bool            `json:"requester_is_author"`
	RequesterIsReviewer bool            `json:"requester_is_reviewer"`
	Signals             map[string]bool `json:"signals,omitempty"`
}

// Fields exposes the context to rule evaluation.
func (c FilterContext) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"team_id":               c.TeamID,
		"user_id":               c.UserID,
		"channel_id":            c.ChannelID,
		"requester_is_assignee": c.RequesterIsAssignee,
		"requester_is_reporter": c.RequesterIsReporter,
		"requester_is_author":   c.RequesterIsAuthor,
		"requester_is_reviewer": c.RequesterIsReviewer,
	}
	for k, v := range c.Signals {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	return fields
}

// ContextFromEnvelope builds the filter context from routing metadata. The
// requester signals are taken from explicit signals when present and
// otherwise computed by comparing the user against the event's people.
func ContextFromEnvelope(env models.MessageEnvelope, e *event.NotificationEvent) FilterContext {
	fc := FilterContext{
		TeamID:    env.Metadata.TeamID,
		UserID:    env.Metadata.UserID,
		ChannelID: env.Metadata.ChannelID,
		Signals:   env.Metadata.Signals,
	}

	fc.RequesterIsAssignee = signalOr(env.Metadata.Signals, "requester_is_assignee", matches(fc.UserID, e, "assignee", "issue.assignee", "pull_request.assignee"))
	fc.RequesterIsReporter = signalOr(env.Metadata.Signals, "requester_is_reporter", matches(fc.UserID, e, "reporter", "issue.reporter"))
	fc.RequesterIsAuthor = signalOr(env.Metadata.Signals, "requester_is_author", fc.UserID != "" && e != nil && fc.UserID == e.Author())
	fc.RequesterIsReviewer = signalOr(env.Metadata.Signals, "requester_is_reviewer", matches(fc.UserID, e, "reviewers", "pull_request.reviewers", "requested_reviewers"))

	return fc
}

func signalOr(signals map[string]bool, key string, fallback bool) bool {
	if v, ok := signals[key]; ok {
		return v
	}
	return fallback
}

func matches(userID string, e *event.NotificationEvent, paths ...string) bool {
	if userID == "" || e == nil {
		return false
	}
	for _, p := range paths {
		for _, id := range e.Strings(p) {
			if id == userID {
				return true
			}
		}
	}
	return false
}
