package rules

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"hush/internal/classification"
	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/pkg/cel"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/metrics"
	"hush/pkg/tracing"
)

type compiledRule struct {
	rule    FilterRule
	expr    Expr
	program *cel.Program
}

func (r *compiledRule) matches(ctx context.Context, view View) (bool, error) {
	if r.program != nil {
		return r.program.Eval(ctx, view)
	}
	return r.expr.Eval(view)
}

// Engine holds the compiled rulesets, indexed by team. Rulesets are
// replaced wholesale on reload and copied on read.
type Engine struct {
	repo      Repository
	cfg       config.FilteringConfig
	evaluator *cel.Evaluator
	logger    logger.Logger

	mu     sync.RWMutex
	byID   map[string]*compiledRule
	byTeam map[string][]*compiledRule
}

func NewEngine(repo Repository, cfg config.FilteringConfig, log logger.Logger) (*Engine, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Engine{
		repo:      repo,
		cfg:       cfg,
		evaluator: evaluator,
		logger:    logger.Component(log, "rules"),
		byID:      make(map[string]*compiledRule),
		byTeam:    make(map[string][]*compiledRule),
	}, nil
}

// NewView merges the evaluation inputs into the map rules are checked against.
func NewView(e *event.NotificationEvent, cls classification.EventClassification, fc decision.FilterContext) View {
	return View{
		cel.VarEvent:          e.Fields(),
		cel.VarPayload:        e.Payload,
		cel.VarMetadata:       e.Metadata,
		cel.VarClassification: cls.Fields(),
		cel.VarContext:        fc.Fields(),
	}
}

// Evaluate runs the applicable ruleset and stops at the first match.
func (s *Engine) Evaluate(ctx context.Context, e *event.NotificationEvent, cls classification.EventClassification, fc decision.FilterContext) Outcome {
	ctx, span := tracing.Start(ctx, "rules", "rules.evaluate", tracing.AttrTeamID.String(fc.TeamID))
	defer span.End()

	rules := s.applicable(fc.TeamID, fc.ChannelID)
	view := NewView(e, cls, fc)

	var outcome Outcome
	for _, r := range rules {
		if ctx.Err() != nil {
			return outcome
		}

		outcome.Evaluated++
		matched, err := r.matches(ctx, view)
		if err != nil {
			outcome.Errors++
			if d := s.handleEvaluationError(ctx, r.rule, err); d != nil {
				outcome.Matched = true
				outcome.RuleID = r.rule.ID
				outcome.Decision = d
				return outcome
			}
			continue
		}

		if !matched {
			metrics.IncRuleEvaluation(r.rule.ID, "no_match")
			continue
		}

		metrics.IncRuleEvaluation(r.rule.ID, "match")
		s.logger.DebugwCtx(ctx, "Rule matched",
			"rule_id", r.rule.ID,
			"rule_name", r.rule.Name,
			"action", r.rule.Action,
		)

		outcome.Matched = true
		outcome.RuleID = r.rule.ID
		switch r.rule.Action {
		case decision.ActionAllow:
			d := decision.Allow(decision.StageRule, fmt.Sprintf("allowed by rule %q", r.rule.Name), 1.0).WithRules(r.rule.ID)
			outcome.Decision = &d
		case decision.ActionBlock:
			d := decision.Block(decision.StageRule, fmt.Sprintf("blocked by rule %q", r.rule.Name), 1.0).WithRules(r.rule.ID)
			outcome.Decision = &d
		case decision.ActionModifyUrgency:
			outcome.UrgencyOverride = r.rule.Urgency
		}
		return outcome
	}

	return outcome
}

// handleEvaluationError skips the rule unless the configured fallback is
// deny, in which case it returns a blocking decision.
func (s *Engine) handleEvaluationError(ctx context.Context, rule FilterRule, err error) *decision.FilterDecision {
	metrics.IncRuleEvaluation(rule.ID, "error")
	metrics.IncRuleError("evaluation")
	s.logger.WarnwCtx(ctx, "Rule evaluation error, skipping rule",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"error", err,
	)

	if s.cfg.Fallback.OnError != constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("rules", "skip_on_error", "evaluation_error").Inc()
		return nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("rules", "deny_on_error", "evaluation_error").Inc()
	d := decision.Block(decision.StageRule, fmt.Sprintf("rule %q failed to evaluate", rule.Name), 0.5).WithRules(rule.ID)
	return &d
}

// applicable returns the team's enabled rules, or the global ruleset when
// the team has none, restricted to rules scoped to channelID or unscoped.
func (s *Engine) applicable(teamID, channelID string) []*compiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.byTeam[teamID]
	if len(set) == 0 && teamID != constants.DefaultTeam {
		set = s.byTeam[constants.DefaultTeam]
	}

	out := make([]*compiledRule, 0, len(set))
	for _, r := range set {
		if r.rule.ChannelID != "" && r.rule.ChannelID != channelID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// compile validates a rule and prepares it for evaluation.
func (s *Engine) compile(rule FilterRule) (*compiledRule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if !rule.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", rule.Action)
	}
	if rule.Action == decision.ActionModifyUrgency && !rule.Urgency.Valid() {
		return nil, fmt.Errorf("modify_urgency requires a valid urgency, got %q", rule.Urgency)
	}
	if rule.Expression != "" && rule.Condition != nil {
		return nil, fmt.Errorf("rule may define a condition or an expression, not both")
	}

	compiled := &compiledRule{rule: rule}
	if rule.Expression != "" {
		program, err := s.evaluator.CompileFilter(rule.Expression)
		if err != nil {
			return nil, err
		}
		compiled.program = program
		return compiled, nil
	}

	expr, err := Compile(rule.Condition)
	if err != nil {
		return nil, err
	}
	compiled.expr = expr
	return compiled, nil
}

// ValidateRule reports why a rule would be rejected by AddRule.
func (s *Engine) ValidateRule(rule FilterRule) error {
	if _, err := s.compile(rule); err != nil {
		return pkgerrors.ErrConfiguration.WithCause(err).WithDetail("rule_id", rule.ID)
	}
	return nil
}

// AddRule inserts or replaces a rule by id.
func (s *Engine) AddRule(rule FilterRule) error {
	compiled, err := s.compile(rule)
	if err != nil {
		metrics.IncRuleError("invalid")
		return pkgerrors.ErrConfiguration.WithCause(err).WithDetail("rule_id", rule.ID)
	}

	s.mu.Lock()
	s.byID[rule.ID] = compiled
	s.rebuildLocked()
	s.mu.Unlock()
	return nil
}

func (s *Engine) RemoveRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("rule_id", id)
	}
	delete(s.byID, id)
	s.rebuildLocked()
	return nil
}

// ListRules returns the team's rules in evaluation order, disabled ones included.
func (s *Engine) ListRules(teamID string) []FilterRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FilterRule, 0)
	for _, r := range s.byID {
		if r.rule.TeamID == teamID {
			out = append(out, r.rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (s *Engine) RuleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// rebuildLocked recomputes the per-team enabled, sorted index.
func (s *Engine) rebuildLocked() {
	byTeam := make(map[string][]*compiledRule)
	for _, r := range s.byID {
		if !r.rule.Enabled {
			continue
		}
		byTeam[r.rule.TeamID] = append(byTeam[r.rule.TeamID], r)
	}
	for _, set := range byTeam {
		sort.Slice(set, func(i, j int) bool { return less(set[i].rule, set[j].rule) })
	}
	s.byTeam = byTeam
	metrics.SetActiveRules(len(s.byID))
}

func (s *Engine) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	if s.repo == nil {
		return nil
	}

	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]
	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	rules, err := s.repo.ListRules(ctx, ListFilter{})
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	s.replaceRules(ctx, rules)
	return nil
}

func (s *Engine) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// replaceRules swaps in a fresh ruleset. Rules that fail to compile are
// logged and left out; the rest still load.
func (s *Engine) replaceRules(ctx context.Context, rules []FilterRule) {
	byID := make(map[string]*compiledRule, len(rules))
	skipped := 0
	for _, rule := range rules {
		compiled, err := s.compile(rule)
		if err != nil {
			skipped++
			metrics.IncRuleError("invalid")
			s.logger.WarnwCtx(ctx, "Skipping invalid rule",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}
		byID[rule.ID] = compiled
	}

	s.mu.Lock()
	s.byID = byID
	s.rebuildLocked()
	s.mu.Unlock()

	s.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(byID),
		"skipped", skipped,
	)
}

func (s *Engine) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.ReloadRules(ctx, true); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
