package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/classification"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
)

func newTestEngine(t *testing.T, repo Repository, fallback string) *Engine {
	t.Helper()
	cfg := config.FilteringConfig{Fallback: config.FallbackConfig{OnError: fallback}}
	engine, err := NewEngine(repo, cfg, logger.NopLogger())
	require.NoError(t, err)
	return engine
}

func statusEvent(priority string) *event.NotificationEvent {
	return event.New(event.Params{
		Source:  event.SourceIssueTracker,
		Type:    "status_changed",
		Payload: map[string]interface{}{"priority": priority, "count": "abc"},
	})
}

func evaluate(e *Engine, ev *event.NotificationEvent, fc decision.FilterContext) Outcome {
	cls := classification.NewClassifier().Classify(ev)
	return e.Evaluate(context.Background(), ev, cls, fc)
}

func rule(id string, priority int, action decision.Action, cond *Condition) FilterRule {
	return FilterRule{ID: id, Name: id, TeamID: "core", Action: action, Priority: priority, Enabled: true, Condition: cond}
}

func TestEvaluate_PriorityShortCircuit(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	require.NoError(t, engine.AddRule(rule("low", 1, decision.ActionAllow, nil)))
	require.NoError(t, engine.AddRule(rule("high", 10, decision.ActionBlock, nil)))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})

	require.NotNil(t, out.Decision)
	assert.Equal(t, "high", out.RuleID)
	assert.Equal(t, decision.ActionBlock, out.Decision.Action)
	assert.Equal(t, []string{"high"}, out.Decision.AppliedRules)
	assert.Equal(t, decision.StageRule, out.Decision.Stage)
	assert.Equal(t, 1, out.Evaluated)
}

func TestEvaluate_TieBrokenByID(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	require.NoError(t, engine.AddRule(rule("b", 5, decision.ActionBlock, nil)))
	require.NoError(t, engine.AddRule(rule("a", 5, decision.ActionAllow, nil)))

	for i := 0; i < 20; i++ {
		out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})
		require.NotNil(t, out.Decision)
		assert.Equal(t, "a", out.RuleID)
		assert.Equal(t, []string{"a"}, out.Decision.AppliedRules)
	}
}

func TestEvaluate_TeamFallsBackToGlobal(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	global := rule("global", 1, decision.ActionBlock, nil)
	global.TeamID = ""
	require.NoError(t, engine.AddRule(global))
	require.NoError(t, engine.AddRule(rule("core-rule", 1, decision.ActionAllow, nil)))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "other"})
	assert.Equal(t, "global", out.RuleID)

	out = evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})
	assert.Equal(t, "core-rule", out.RuleID)
}

func TestEvaluate_ChannelScope(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	scoped := rule("scoped", 10, decision.ActionBlock, nil)
	scoped.ChannelID = "C-quiet"
	require.NoError(t, engine.AddRule(scoped))
	require.NoError(t, engine.AddRule(rule("open", 1, decision.ActionAllow, nil)))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core", ChannelID: "C-loud"})
	assert.Equal(t, "open", out.RuleID)

	out = evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core", ChannelID: "C-quiet"})
	assert.Equal(t, "scoped", out.RuleID)
}

func TestEvaluate_DisabledRulesIgnored(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	disabled := rule("off", 10, decision.ActionBlock, nil)
	disabled.Enabled = false
	require.NoError(t, engine.AddRule(disabled))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})
	assert.False(t, out.Matched)
	assert.Nil(t, out.Decision)
}

func TestEvaluate_ModifyUrgency(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	r := rule("bump", 10, decision.ActionModifyUrgency, &Condition{Field: "payload.priority", Op: OpEquals, Value: "Low"})
	r.Urgency = event.UrgencyHigh
	require.NoError(t, engine.AddRule(r))
	require.NoError(t, engine.AddRule(rule("after", 1, decision.ActionBlock, nil)))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})

	assert.True(t, out.Matched)
	assert.Equal(t, "bump", out.RuleID)
	assert.Nil(t, out.Decision)
	assert.Equal(t, event.UrgencyHigh, out.UrgencyOverride)
}

func TestEvaluate_RuntimeErrorSkipsRule(t *testing.T) {
	engine := newTestEngine(t, nil, "allow")
	require.NoError(t, engine.AddRule(rule("broken", 10, decision.ActionBlock, &Condition{Field: "payload.count", Op: OpGT, Value: 1})))
	require.NoError(t, engine.AddRule(rule("next", 5, decision.ActionAllow, nil)))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})

	assert.Equal(t, "next", out.RuleID)
	assert.Equal(t, 1, out.Errors)
	assert.Equal(t, 2, out.Evaluated)
}

func TestEvaluate_DenyFallbackBlocks(t *testing.T) {
	engine := newTestEngine(t, nil, "deny")
	require.NoError(t, engine.AddRule(rule("broken", 10, decision.ActionAllow, &Condition{Field: "payload.count", Op: OpGT, Value: 1})))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})

	require.NotNil(t, out.Decision)
	assert.Equal(t, decision.ActionBlock, out.Decision.Action)
	assert.Equal(t, []string{"broken"}, out.Decision.AppliedRules)
}

func TestEvaluate_CELRule(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	r := rule("cel", 10, decision.ActionBlock, nil)
	r.Expression = `event.source == "issue_tracker" && payload.priority == "Low" && context.team_id == "core"`
	require.NoError(t, engine.AddRule(r))

	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})
	assert.Equal(t, "cel", out.RuleID)

	out = evaluate(engine, statusEvent("High"), decision.FilterContext{TeamID: "core"})
	assert.False(t, out.Matched)
}

func TestAddRule_RejectsInvalid(t *testing.T) {
	engine := newTestEngine(t, nil, "")

	tests := []FilterRule{
		{ID: "", Action: decision.ActionAllow},
		{ID: "x", Action: "explode"},
		{ID: "x", Action: decision.ActionModifyUrgency},
		{ID: "x", Action: decision.ActionAllow, Expression: `payload.count`},
		{ID: "x", Action: decision.ActionAllow, Condition: &Condition{Field: "a", Op: OpRegex, Value: "("}},
		{ID: "x", Action: decision.ActionAllow, Expression: `true`, Condition: &Condition{}},
	}
	for _, r := range tests {
		err := engine.AddRule(r)
		assert.True(t, pkgerrors.IsConfiguration(err), "rule %+v", r)
	}
	assert.Equal(t, 0, engine.RuleCount())
}

func TestRemoveAndListRules(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	require.NoError(t, engine.AddRule(rule("b", 1, decision.ActionAllow, nil)))
	require.NoError(t, engine.AddRule(rule("a", 1, decision.ActionAllow, nil)))
	require.NoError(t, engine.AddRule(rule("c", 9, decision.ActionAllow, nil)))

	listed := engine.ListRules("core")
	require.Len(t, listed, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{listed[0].ID, listed[1].ID, listed[2].ID})
	assert.Empty(t, engine.ListRules("nobody"))

	require.NoError(t, engine.RemoveRule("a"))
	assert.True(t, pkgerrors.IsNotFound(engine.RemoveRule("a")))
	assert.Len(t, engine.ListRules("core"), 2)
}

func TestReloadRules_SkipsInvalid(t *testing.T) {
	repo := NewMemoryRepository(
		rule("good", 1, decision.ActionBlock, nil),
		rule("bad", 2, decision.ActionAllow, &Condition{Field: "x", Op: "??"}),
	)
	engine := newTestEngine(t, repo, "")

	require.NoError(t, engine.ReloadRules(context.Background(), true))

	assert.Equal(t, 1, engine.RuleCount())
	out := evaluate(engine, statusEvent("Low"), decision.FilterContext{TeamID: "core"})
	assert.Equal(t, "good", out.RuleID)
}

func TestReloadRules_NoRepository(t *testing.T) {
	engine := newTestEngine(t, nil, "")
	assert.NoError(t, engine.ReloadRules(context.Background()))
}

func TestStartReloader_StopsOnCancel(t *testing.T) {
	engine := newTestEngine(t, NewMemoryRepository(rule("r", 1, decision.ActionAllow, nil)), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.StartReloader(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
