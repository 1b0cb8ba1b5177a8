package classification

import (
	"strings"

	"hush/internal/event"
)

type Category string

const (
	CategoryStatusChange   Category = "status_change"
	CategoryAssignment     Category = "assignment"
	CategoryComment        Category = "comment"
	CategoryPriorityChange Category = "priority_change"
	CategoryBlocker        Category = "blocker"
	CategoryCreation       Category = "creation"
	CategoryTransition     Category = "transition"
)

type Significance string

const (
	SignificanceMinor    Significance = "minor"
	SignificanceModerate Significance = "moderate"
	SignificanceMajor    Significance = "major"
	SignificanceCritical Significance = "critical"
)

// EventClassification is derived per decision and passed by value.
type EventClassification struct {
	Category     Category          `json:"category"`
	Urgency      event.Urgency     `json:"urgency"`
	Significance Significance      `json:"significance"`
	Stakeholders []string          `json:"stakeholders,omitempty"`
	RoutingHints map[string]string `json:"routing_hints,omitempty"`
}

// Fields exposes the classification to rule evaluation.
func (c EventClassification) Fields() map[string]interface{} {
	stakeholders := make([]interface{}, len(c.Stakeholders))
	for i, s := range c.Stakeholders {
		stakeholders[i] = s
	}
	hints := make(map[string]interface{}, len(c.RoutingHints))
	for k, v := range c.RoutingHints {
		hints[k] = v
	}
	return map[string]interface{}{
		"category":      string(c.Category),
		"urgency":       string(c.Urgency),
		"significance":  string(c.Significance),
		"stakeholders":  stakeholders,
		"routing_hints": hints,
	}
}

var (
	priorityPaths  = []string{"priority", "issue.priority", "pull_request.priority", "fields.priority.name", "fields.priority"}
	severityPaths  = []string{"severity", "issue.severity", "alert.severity"}
	labelPaths     = []string{"labels", "issue.labels", "pull_request.labels"}
	mergeablePaths = []string{"mergeable", "pull_request.mergeable"}

	highPriorities     = map[string]bool{"high": true, "highest": true, "urgent": true}
	criticalPriorities = map[string]bool{"critical": true, "blocker": true}
	highSeverities     = map[string]bool{"high": true, "critical": true}
	criticalKeywords   = []string{"security", "outage", "incident"}

	stakeholderPaths = []string{
		"assignee", "issue.assignee", "pull_request.assignee",
		"reporter", "issue.reporter",
	}
	reviewerPaths = []string{"reviewers", "pull_request.reviewers", "requested_reviewers", "pull_request.requested_reviewers"}

	routingPaths = map[string][]string{
		"team":       {"team", "issue.team"},
		"project":    {"project.key", "project", "issue.project"},
		"repository": {"repository.full_name", "repository", "repo"},
	}
)

// DefaultMinorFields are the fields whose edits count as cosmetic.
var DefaultMinorFields = []string{"description", "label", "labels", "component", "components"}

type Classifier struct {
	minorFields map[string]bool
}

type Option func(*Classifier)

func WithMinorFields(fields []string) Option {
	return func(c *Classifier) {
		if len(fields) == 0 {
			return
		}
		c.minorFields = toSet(fields)
	}
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{minorFields: toSet(DefaultMinorFields)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never fails. A panic while reading a malformed payload yields a
// medium/moderate best effort.
func (c *Classifier) Classify(e *event.NotificationEvent) (result EventClassification) {
	defer func() {
		if r := recover(); r != nil {
			result = EventClassification{
				Category:     CategoryStatusChange,
				Urgency:      event.UrgencyMedium,
				Significance: SignificanceModerate,
			}
		}
	}()

	if e == nil {
		return EventClassification{
			Category:     CategoryStatusChange,
			Urgency:      event.UrgencyMedium,
			Significance: SignificanceModerate,
		}
	}

	category := c.category(e)
	urgency := c.urgency(e, category)

	return EventClassification{
		Category:     category,
		Urgency:      urgency,
		Significance: significance(urgency, category),
		Stakeholders: stakeholders(e),
		RoutingHints: routingHints(e),
	}
}

// IsMinorUpdate reports whether the event only touched cosmetic fields.
func (c *Classifier) IsMinorUpdate(e *event.NotificationEvent) bool {
	fields := e.ChangedFields()
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !c.minorFields[strings.ToLower(f)] {
			return false
		}
	}
	return true
}

func (c *Classifier) category(e *event.NotificationEvent) Category {
	t := strings.ToLower(e.Type)

	switch {
	case isBlocker(e, t):
		return CategoryBlocker
	case strings.Contains(t, "assignee") || strings.Contains(t, "assigned"):
		return CategoryAssignment
	case strings.HasPrefix(t, "comment") || strings.Contains(t, "_comment"):
		return CategoryComment
	case strings.Contains(t, "priority"):
		return CategoryPriorityChange
	case strings.HasSuffix(t, "_opened") || strings.HasSuffix(t, "_created") || t == "created" || t == "opened":
		return CategoryCreation
	}

	if from, to := e.Transition(); from != "" && to != "" {
		return CategoryTransition
	}
	return CategoryStatusChange
}

func isBlocker(e *event.NotificationEvent, t string) bool {
	if strings.Contains(t, "blocked") || strings.Contains(t, "blocker") {
		return true
	}
	if e.Bool("blocked") || e.Bool("blocker") || e.Bool("issue.blocked") {
		return true
	}
	if _, to := e.Transition(); strings.EqualFold(to, "blocked") {
		return true
	}
	return strings.EqualFold(e.String("issue.status"), "blocked")
}

// urgency applies the ordered rules; first match wins.
func (c *Classifier) urgency(e *event.NotificationEvent, category Category) event.Urgency {
	if category == CategoryBlocker && highSeverities[strings.ToLower(firstString(e, severityPaths))] {
		return event.UrgencyCritical
	}

	if hasCriticalKeyword(e) {
		return event.UrgencyCritical
	}

	// Critical and Blocker priorities are production incidents and must
	// never be held back by a rule, so they rank above plain high.
	priority := strings.ToLower(firstString(e, priorityPaths))
	if criticalPriorities[priority] {
		return event.UrgencyCritical
	}
	if highPriorities[priority] {
		return event.UrgencyHigh
	}

	if mergeConflict(e) || buildFailed(e) {
		return event.UrgencyHigh
	}

	if c.IsMinorUpdate(e) {
		return event.UrgencyLow
	}

	return event.UrgencyMedium
}

func hasCriticalKeyword(e *event.NotificationEvent) bool {
	t := strings.ToLower(e.Type)
	for _, kw := range criticalKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	for _, path := range labelPaths {
		for _, label := range e.Strings(path) {
			label = strings.ToLower(label)
			for _, kw := range criticalKeywords {
				if strings.Contains(label, kw) {
					return true
				}
			}
		}
	}
	return false
}

// mergeConflict requires an explicit false; a missing flag is not a conflict.
func mergeConflict(e *event.NotificationEvent) bool {
	for _, path := range mergeablePaths {
		v, ok := e.Lookup(path)
		if !ok {
			continue
		}
		if b, isBool := v.(bool); isBool && !b {
			return true
		}
	}
	return false
}

func buildFailed(e *event.NotificationEvent) bool {
	if e.Bool("build_failed") || e.Bool("build.failed") {
		return true
	}
	for _, path := range []string{"build.status", "ci.status", "check_run.conclusion"} {
		switch strings.ToLower(e.String(path)) {
		case "failure", "failed", "error":
			return true
		}
	}
	return false
}

func significance(u event.Urgency, category Category) Significance {
	switch u {
	case event.UrgencyCritical:
		return SignificanceCritical
	case event.UrgencyHigh:
		return SignificanceMajor
	case event.UrgencyLow:
		return SignificanceMinor
	}
	switch category {
	case CategoryBlocker, CategoryPriorityChange, CategoryTransition:
		return SignificanceMajor
	}
	return SignificanceModerate
}

func stakeholders(e *event.NotificationEvent) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, path := range stakeholderPaths {
		add(e.Strings(path)...)
	}
	add(e.Author())
	for _, path := range reviewerPaths {
		add(e.Strings(path)...)
	}
	return out
}

func routingHints(e *event.NotificationEvent) map[string]string {
	hints := make(map[string]string)
	for hint, paths := range routingPaths {
		if v := firstString(e, paths); v != "" {
			hints[hint] = v
		}
	}
	if _, ok := hints["team"]; !ok {
		if team := e.String("metadata.team_id"); team != "" {
			hints["team"] = team
		}
	}
	return hints
}

func firstString(e *event.NotificationEvent, paths []string) string {
	for _, p := range paths {
		if s := e.String(p); s != "" {
			return s
		}
	}
	return ""
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}
