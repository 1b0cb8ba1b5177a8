package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hush/internal/event"
	"hush/pkg/models"
)

func TestAllowBlock(t *testing.T) {
	a := Allow(StageDefault, "no applicable rule", 0.5)
	assert.True(t, a.Allowed())
	assert.Equal(t, ActionAllow, a.Action)
	assert.NotNil(t, a.AppliedRules)
	assert.False(t, a.DecidedAt.IsZero())

	b := Block(StageRule, "blocked by rule", 1)
	assert.False(t, b.Allowed())
	assert.Equal(t, ActionBlock, b.Action)
}

func TestWithHelpers_DoNotAlias(t *testing.T) {
	base := Allow(StageRule, "r", 1).WithRules("r1")
	derived := base.WithRules("r2").WithUrgency(event.UrgencyHigh)

	assert.Equal(t, []string{"r1"}, base.AppliedRules)
	assert.Equal(t, []string{"r1", "r2"}, derived.AppliedRules)
	assert.Equal(t, event.UrgencyHigh, derived.UrgencyOverride)
	assert.Empty(t, base.UrgencyOverride)

	degraded := derived.AsDegraded()
	assert.True(t, degraded.Degraded)
	assert.False(t, derived.Degraded)
}

func TestInfo(t *testing.T) {
	d := Allow(StageHeuristic, "author", 0.8).WithRules("r1").WithUrgency(event.UrgencyLow)
	info := d.Info()
	assert.Equal(t, "allow", info.Action)
	assert.Equal(t, "heuristic", info.Stage)
	assert.Equal(t, "low", info.UrgencyOverride)
	assert.Equal(t, []string{"r1"}, info.AppliedRules)
}

func TestFilterContext_Fields(t *testing.T) {
	fc := FilterContext{
		TeamID:            "t1",
		ChannelID:         "C1",
		RequesterIsAuthor: true,
		Signals:           map[string]bool{"on_call": true, "team_id": false},
	}
	f := fc.Fields()
	assert.Equal(t, "t1", f["team_id"])
	assert.Equal(t, true, f["requester_is_author"])
	assert.Equal(t, true, f["on_call"])
}

func TestContextFromEnvelope(t *testing.T) {
	env := models.NewEnvelope("jira", "issue_updated").
		Route("team-a", "alice", "C1").
		Payload(map[string]interface{}{
			"issue":     map[string]interface{}{"assignee": "alice", "reporter": "bob"},
			"reviewers": []interface{}{"alice"},
		}).
		Signals(map[string]bool{"requester_is_reporter": true}).
		Build()

	fc := ContextFromEnvelope(env, event.FromEnvelope(env))

	assert.Equal(t, "team-a", fc.TeamID)
	assert.Equal(t, "C1", fc.ChannelID)
	assert.True(t, fc.RequesterIsAssignee)
	assert.True(t, fc.RequesterIsReporter)
	assert.False(t, fc.RequesterIsAuthor)
	assert.True(t, fc.RequesterIsReviewer)
}
