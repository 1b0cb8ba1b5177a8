package classification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hush/internal/event"
)

func newEvent(source event.Source, eventType string, payload map[string]interface{}) *event.NotificationEvent {
	return event.New(event.Params{Source: source, Type: eventType, Payload: payload})
}

func TestClassify_Category(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
		want      Category
	}{
		{name: "blocked type", eventType: "issue_blocked", want: CategoryBlocker},
		{name: "blocked flag", eventType: "status_changed", payload: map[string]interface{}{"blocked": true}, want: CategoryBlocker},
		{name: "assignment", eventType: "assignee_changed", want: CategoryAssignment},
		{name: "comment", eventType: "comment_added", want: CategoryComment},
		{name: "pr comment", eventType: "pr_comment", want: CategoryComment},
		{name: "priority", eventType: "priority_changed", want: CategoryPriorityChange},
		{name: "pr opened", eventType: "pr_opened", want: CategoryCreation},
		{name: "issue created", eventType: "issue_created", want: CategoryCreation},
		{
			name:      "transition",
			eventType: "status_changed",
			payload:   map[string]interface{}{"changes": map[string]interface{}{"status": map[string]interface{}{"from": "Open", "to": "In Review"}}},
			want:      CategoryTransition,
		},
		{name: "plain status change", eventType: "status_changed", want: CategoryStatusChange},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(newEvent(event.SourceIssueTracker, tt.eventType, tt.payload))
			assert.Equal(t, tt.want, got.Category)
		})
	}
}

func TestClassify_Urgency(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
		want      event.Urgency
	}{
		{
			name:      "blocker with high severity",
			eventType: "issue_blocked",
			payload:   map[string]interface{}{"severity": "High"},
			want:      event.UrgencyCritical,
		},
		{
			name:      "blocker without severity",
			eventType: "issue_blocked",
			want:      event.UrgencyMedium,
		},
		{
			name:      "security label",
			eventType: "issue_created",
			payload:   map[string]interface{}{"labels": []interface{}{"Security-Review"}},
			want:      event.UrgencyCritical,
		},
		{name: "incident type", eventType: "incident_opened", want: event.UrgencyCritical},
		{
			name:      "critical priority",
			eventType: "status_changed",
			payload:   map[string]interface{}{"issue": map[string]interface{}{"priority": "Critical"}},
			want:      event.UrgencyCritical,
		},
		{
			name:      "high priority",
			eventType: "status_changed",
			payload:   map[string]interface{}{"priority": "Highest"},
			want:      event.UrgencyHigh,
		},
		{
			name:      "merge conflict",
			eventType: "pr_synchronize",
			payload:   map[string]interface{}{"pull_request": map[string]interface{}{"mergeable": false}},
			want:      event.UrgencyHigh,
		},
		{
			name:      "build failure",
			eventType: "pr_synchronize",
			payload:   map[string]interface{}{"ci": map[string]interface{}{"status": "failure"}},
			want:      event.UrgencyHigh,
		},
		{
			name:      "cosmetic edit",
			eventType: "issue_updated",
			payload:   map[string]interface{}{"changed_fields": []interface{}{"labels", "description"}},
			want:      event.UrgencyLow,
		},
		{
			name:      "substantive edit",
			eventType: "issue_updated",
			payload:   map[string]interface{}{"changed_fields": []interface{}{"labels", "summary"}},
			want:      event.UrgencyMedium,
		},
		{
			name:      "mergeable missing is not a conflict",
			eventType: "pr_synchronize",
			want:      event.UrgencyMedium,
		},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(newEvent(event.SourceCodeReview, tt.eventType, tt.payload))
			assert.Equal(t, tt.want, got.Urgency)
		})
	}
}

func TestClassify_Significance(t *testing.T) {
	assert.Equal(t, SignificanceCritical, significance(event.UrgencyCritical, CategoryComment))
	assert.Equal(t, SignificanceMajor, significance(event.UrgencyHigh, CategoryComment))
	assert.Equal(t, SignificanceMajor, significance(event.UrgencyMedium, CategoryTransition))
	assert.Equal(t, SignificanceModerate, significance(event.UrgencyMedium, CategoryComment))
	assert.Equal(t, SignificanceMinor, significance(event.UrgencyLow, CategoryComment))
}

func TestClassify_StakeholdersAndHints(t *testing.T) {
	e := event.New(event.Params{
		Source: event.SourceCodeReview,
		Type:   "pr_opened",
		Payload: map[string]interface{}{
			"assignee":   "alice",
			"author":     map[string]interface{}{"login": "bob"},
			"reporter":   "alice",
			"reviewers":  []interface{}{"carol", "bob"},
			"repository": map[string]interface{}{"full_name": "acme/api"},
			"project":    "API",
		},
		Metadata: map[string]interface{}{"team_id": "platform"},
	})

	got := NewClassifier().Classify(e)

	assert.Equal(t, []string{"alice", "bob", "carol"}, got.Stakeholders)
	assert.Equal(t, "acme/api", got.RoutingHints["repository"])
	assert.Equal(t, "API", got.RoutingHints["project"])
	assert.Equal(t, "platform", got.RoutingHints["team"])
}

func TestClassify_NilAndMalformed(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(nil)
	assert.Equal(t, event.UrgencyMedium, got.Urgency)
	assert.Equal(t, SignificanceModerate, got.Significance)

	e := newEvent(event.SourceIssueTracker, "status_changed", map[string]interface{}{
		"issue":     "not-a-map",
		"priority":  []interface{}{1, 2},
		"reviewers": 12,
		"changes":   "oops",
	})
	got = c.Classify(e)
	assert.Equal(t, event.UrgencyMedium, got.Urgency)
}

func TestIsMinorUpdate_CustomFields(t *testing.T) {
	c := NewClassifier(WithMinorFields([]string{"title"}))
	e := newEvent(event.SourceIssueTracker, "issue_updated", map[string]interface{}{
		"changes": map[string]interface{}{"title": map[string]interface{}{"from": "a", "to": "b"}},
	})
	assert.True(t, c.IsMinorUpdate(e))

	e = newEvent(event.SourceIssueTracker, "issue_updated", map[string]interface{}{
		"changed_fields": []interface{}{"labels"},
	})
	assert.False(t, c.IsMinorUpdate(e))
}

func TestFields(t *testing.T) {
	c := EventClassification{
		Category:     CategoryComment,
		Urgency:      event.UrgencyLow,
		Significance: SignificanceMinor,
		Stakeholders: []string{"a"},
	}
	f := c.Fields()
	assert.Equal(t, "comment", f["category"])
	assert.Equal(t, "low", f["urgency"])
	assert.Equal(t, []interface{}{"a"}, f["stakeholders"])
}
