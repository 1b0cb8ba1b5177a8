package pipeline

import (
	"strings"

	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
)

const (
	ReasonDraftUpdate = "draft PR update filtered"
	ReasonMinorUpdate = "minor update filtered"

	RuleDraftUpdate         = "heuristic.draft_pr_update"
	RuleMergeConflict       = "heuristic.merge_conflict"
	RuleRequesterInvolved   = "heuristic.requester_involved"
	RuleHighPriority        = "heuristic.high_priority"
	RuleImportantTransition = "heuristic.important_transition"
	RuleMinorUpdate         = "heuristic.minor_update"
)

var (
	minorPRActions   = map[string]bool{"synchronize": true, "edited": true, "labeled": true}
	allowPriorities  = map[string]bool{"high": true, "highest": true, "urgent": true, "critical": true, "blocker": true}
	draftPaths       = []string{"pull_request.draft", "draft"}
	mergeablePaths   = []string{"pull_request.mergeable", "mergeable"}
	prActionPaths    = []string{"action", "pull_request.action"}
	ticketPriorities = []string{"priority", "issue.priority", "fields.priority.name", "fields.priority"}
)

// transitionSet matches (from, to) pairs case-insensitively; "*" on either
// side matches any status.
type transitionSet []config.TransitionConfig

func newTransitionSet(pairs []config.TransitionConfig) transitionSet {
	set := make(transitionSet, 0, len(pairs))
	for _, p := range pairs {
		set = append(set, config.TransitionConfig{
			From: strings.ToLower(strings.TrimSpace(p.From)),
			To:   strings.ToLower(strings.TrimSpace(p.To)),
		})
	}
	return set
}

func (s transitionSet) contains(from, to string) bool {
	from, to = strings.ToLower(from), strings.ToLower(to)
	if to == "" {
		return false
	}
	for _, p := range s {
		if (p.From == "*" || p.From == from) && (p.To == "*" || p.To == to) {
			return true
		}
	}
	return false
}

// heuristics applies the per-source policy. ok is false when no heuristic
// concluded and the default applies.
func (p *Pipeline) heuristics(e *event.NotificationEvent, fc decision.FilterContext) (decision.FilterDecision, bool) {
	switch e.Source {
	case event.SourceCodeReview:
		return codeReviewPolicy(e, fc)
	case event.SourceIssueTracker:
		return p.issueTrackerPolicy(e, fc)
	}
	return decision.FilterDecision{}, false
}

func codeReviewPolicy(e *event.NotificationEvent, fc decision.FilterContext) (decision.FilterDecision, bool) {
	if isDraft(e) && minorPRActions[prAction(e)] {
		return decision.Block(decision.StageHeuristic, ReasonDraftUpdate, 0.8).WithRules(RuleDraftUpdate), true
	}

	if notMergeable(e) {
		return decision.Allow(decision.StageHeuristic, "pull request has merge conflicts", 0.9).WithRules(RuleMergeConflict), true
	}

	if fc.RequesterIsAuthor || fc.RequesterIsReviewer || fc.RequesterIsAssignee {
		return decision.Allow(decision.StageHeuristic, "requester is involved in the pull request", 0.8).WithRules(RuleRequesterInvolved), true
	}

	return decision.FilterDecision{}, false
}

func (p *Pipeline) issueTrackerPolicy(e *event.NotificationEvent, fc decision.FilterContext) (decision.FilterDecision, bool) {
	for _, path := range ticketPriorities {
		if allowPriorities[strings.ToLower(e.String(path))] {
			return decision.Allow(decision.StageHeuristic, "high priority ticket", 0.9).WithRules(RuleHighPriority), true
		}
	}

	if from, to := e.Transition(); p.transitions.contains(from, to) {
		return decision.Allow(decision.StageHeuristic, "important status transition "+from+" -> "+to, 0.8).WithRules(RuleImportantTransition), true
	}

	if p.classifier.IsMinorUpdate(e) && !fc.RequesterIsAssignee && !fc.RequesterIsReporter {
		return decision.Block(decision.StageHeuristic, ReasonMinorUpdate, 0.7).WithRules(RuleMinorUpdate), true
	}

	return decision.FilterDecision{}, false
}

func isDraft(e *event.NotificationEvent) bool {
	for _, path := range draftPaths {
		if e.Bool(path) {
			return true
		}
	}
	return false
}

// prAction reads the provider action, falling back to the suffix of the
// event type (pr_synchronize → synchronize).
func prAction(e *event.NotificationEvent) string {
	for _, path := range prActionPaths {
		if a := e.String(path); a != "" {
			return strings.ToLower(a)
		}
	}
	t := strings.ToLower(e.Type)
	if i := strings.LastIndex(t, "_"); i >= 0 {
		return t[i+1:]
	}
	return t
}

func notMergeable(e *event.NotificationEvent) bool {
	for _, path := range mergeablePaths {
		if v, ok := e.Lookup(path); ok {
			if b, isBool := v.(bool); isBool && !b {
				return true
			}
		}
	}
	return false
}
