package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testView() View {
	return View{
		"event": map[string]interface{}{"source": "issue_tracker", "type": "status_changed"},
		"payload": map[string]interface{}{
			"priority": "High",
			"count":    7.0,
			"title":    "Fix login timeout",
			"labels":   []interface{}{"backend", "auth"},
			"owner":    "alice",
			"weird":    "abc",
		},
		"metadata":       map[string]interface{}{"team_id": "core"},
		"classification": map[string]interface{}{"urgency": "high"},
		"context":        map[string]interface{}{"user_id": "alice", "requester_is_assignee": true},
	}
}

func TestCompile_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{name: "equals", cond: Condition{Field: "payload.priority", Op: OpEquals, Value: "High"}, want: true},
		{name: "equals unrooted path", cond: Condition{Field: "priority", Op: OpEquals, Value: "High"}, want: true},
		{name: "equals number", cond: Condition{Field: "payload.count", Op: OpEquals, Value: 7}, want: true},
		{name: "equals bool", cond: Condition{Field: "context.requester_is_assignee", Op: OpEquals, Value: true}, want: true},
		{name: "not equals", cond: Condition{Field: "event.source", Op: OpNotEquals, Value: "code_review"}, want: true},
		{name: "not equals missing field", cond: Condition{Field: "payload.missing", Op: OpNotEquals, Value: "x"}, want: true},
		{name: "equals missing field", cond: Condition{Field: "payload.missing", Op: OpEquals, Value: "x"}, want: false},
		{name: "in", cond: Condition{Field: "classification.urgency", Op: OpIn, Value: []interface{}{"high", "critical"}}, want: true},
		{name: "in list overlap", cond: Condition{Field: "payload.labels", Op: OpIn, Value: []interface{}{"auth"}}, want: true},
		{name: "contains string", cond: Condition{Field: "payload.title", Op: OpContains, Value: "login"}, want: true},
		{name: "contains list", cond: Condition{Field: "payload.labels", Op: OpContains, Value: "frontend"}, want: false},
		{name: "gt", cond: Condition{Field: "payload.count", Op: OpGT, Value: 5}, want: true},
		{name: "lt", cond: Condition{Field: "payload.count", Op: OpLT, Value: 5}, want: false},
		{name: "gte", cond: Condition{Field: "payload.count", Op: OpGTE, Value: 7}, want: true},
		{name: "lte", cond: Condition{Field: "payload.count", Op: OpLTE, Value: 6.5}, want: false},
		{name: "regex", cond: Condition{Field: "payload.title", Op: OpRegex, Value: `^Fix\s`}, want: true},
		{name: "field to field", cond: Condition{Field: "payload.owner", Op: OpEquals, ValueField: "context.user_id"}, want: true},
		{
			name: "all",
			cond: Condition{All: []Condition{
				{Field: "payload.priority", Op: OpEquals, Value: "High"},
				{Field: "metadata.team_id", Op: OpEquals, Value: "core"},
			}},
			want: true,
		},
		{
			name: "any",
			cond: Condition{Any: []Condition{
				{Field: "payload.priority", Op: OpEquals, Value: "Low"},
				{Field: "event.type", Op: OpEquals, Value: "status_changed"},
			}},
			want: true,
		},
		{name: "not", cond: Condition{Not: &Condition{Field: "payload.priority", Op: OpEquals, Value: "High"}}, want: false},
		{name: "empty matches all", cond: Condition{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := tt.cond
			expr, err := Compile(&cond)
			require.NoError(t, err)

			got, err := expr.Eval(testView())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_NilMatchesAll(t *testing.T) {
	expr, err := Compile(nil)
	require.NoError(t, err)
	ok, err := expr.Eval(View{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
	}{
		{name: "missing field", cond: Condition{Op: OpEquals, Value: "x"}},
		{name: "missing operator", cond: Condition{Field: "payload.x"}},
		{name: "unknown operator", cond: Condition{Field: "payload.x", Op: "like", Value: "x"}},
		{name: "bad regex", cond: Condition{Field: "payload.x", Op: OpRegex, Value: "("}},
		{name: "regex not string", cond: Condition{Field: "payload.x", Op: OpRegex, Value: 5}},
		{name: "in without list", cond: Condition{Field: "payload.x", Op: OpIn, Value: "x"}},
		{name: "gt without number", cond: Condition{Field: "payload.x", Op: OpGT, Value: "big"}},
		{name: "mixed node", cond: Condition{Field: "payload.x", Op: OpEquals, Any: []Condition{{}}}},
		{name: "nested invalid", cond: Condition{All: []Condition{{Field: "payload.x", Op: "nope"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := tt.cond
			_, err := Compile(&cond)
			assert.Error(t, err)
		})
	}
}

func TestCompare_RuntimeTypeErrors(t *testing.T) {
	expr, err := Compile(&Condition{Field: "payload.weird", Op: OpGT, Value: 5})
	require.NoError(t, err)

	_, err = expr.Eval(testView())
	assert.Error(t, err)
}

func TestCondition_JSONShape(t *testing.T) {
	raw := `{"all":[{"field":"payload.priority","op":"in","value":["High","Critical"]},{"not":{"field":"payload.draft","op":"equals","value":true}}]}`
	var cond Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &cond))

	expr, err := Compile(&cond)
	require.NoError(t, err)

	ok, err := expr.Eval(testView())
	require.NoError(t, err)
	assert.True(t, ok)
}
