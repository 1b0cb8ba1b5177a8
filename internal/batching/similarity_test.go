package batching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hush/internal/event"
)

func TestJaccard(t *testing.T) {
	set := func(items ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, i := range items {
			m[i] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name string
		a, b map[string]struct{}
		want float64
	}{
		{"both empty", set(), set(), 1},
		{"identical", set("x", "y"), set("x", "y"), 1},
		{"disjoint", set("x"), set("y"), 0},
		{"three of five", set("a", "b", "c", "d"), set("a", "b", "c", "e"), 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestJaccardPolicy(t *testing.T) {
	p := NewJaccardPolicy(0)
	assert.InDelta(t, 0.5, p.Threshold(), 1e-9)

	samePR := p.Score(prComment(1, "alice", "x"), prComment(1, "bob", "y"))
	otherPR := p.Score(prComment(1, "alice", "x"), prComment(2, "bob", "y"))
	assert.GreaterOrEqual(t, samePR, p.Threshold())
	assert.Less(t, otherPR, p.Threshold())

	ticket := event.New(event.Params{Source: event.SourceIssueTracker, Payload: map[string]interface{}{"issue": map[string]interface{}{"key": "A-1"}}})
	assert.Equal(t, "issue_tracker/issue", p.BatchType(ticket))
	assert.Equal(t, "manual/event", p.BatchType(event.New(event.Params{})))
}
