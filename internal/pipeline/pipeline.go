package pipeline

import (
	"context"
	"fmt"
	"time"

	"hush/internal/classification"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/internal/rules"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/logging"
	"hush/pkg/metrics"
	"hush/pkg/tracing"
)

const (
	ReasonCritical = "critical event bypasses filtering"
	ReasonDefault  = "no applicable rule"
	ReasonFailOpen = "internal error, failing open"

	RuleCriticalOverride = "critical_override"
	RuleDefault          = "default.allow"
	RuleFailOpen         = "fail_open"
)

// RuleEvaluator is the part of the rule engine the pipeline needs.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, e *event.NotificationEvent, cls classification.EventClassification, fc decision.FilterContext) rules.Outcome
}

// NoiseChecker returns a block decision for repetitive events, or nil.
type NoiseChecker interface {
	Check(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) *decision.FilterDecision
}

// DecisionRecorder observes every decision. It must not block.
type DecisionRecorder interface {
	RecordDecision(e *event.NotificationEvent, d decision.FilterDecision, fc decision.FilterContext)
}

type Option func(*Pipeline)

func WithRecorder(r DecisionRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// Pipeline produces exactly one FilterDecision per event and never fails.
type Pipeline struct {
	classifier  *classification.Classifier
	rules       RuleEvaluator
	suppressor  NoiseChecker
	recorder    DecisionRecorder
	transitions transitionSet
	logger      logger.Logger
}

func New(classifier *classification.Classifier, ruleEngine RuleEvaluator, suppressor NoiseChecker, cfg config.FilteringConfig, log logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier:  classifier,
		rules:       ruleEngine,
		suppressor:  suppressor,
		transitions: newTransitionSet(cfg.ImportantTransitions),
		logger:      logger.Component(log, "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldProcess runs the stages in order and stops at the first conclusive
// one. The event's urgency is settled and the event frozen before return.
func (p *Pipeline) ShouldProcess(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) decision.FilterDecision {
	d := p.run(ctx, e, fc, false)
	if p.recorder != nil && e != nil {
		p.recorder.RecordDecision(e, d, fc)
	}
	return d
}

// DryRun evaluates without consulting or updating suppression state and
// without recording analytics.
func (p *Pipeline) DryRun(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) decision.FilterDecision {
	return p.run(ctx, e, fc, true)
}

func (p *Pipeline) run(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext, dryRun bool) decision.FilterDecision {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline", "pipeline.should_process",
		tracing.AttrChannelID.String(fc.ChannelID),
		tracing.AttrTeamID.String(fc.TeamID),
	)
	defer span.End()

	if e != nil {
		span.SetAttributes(
			tracing.AttrEventID.String(e.ID),
			tracing.AttrEventSource.String(string(e.Source)),
		)
		ctx = logging.WithEventID(ctx, e.ID)
	}
	ctx = logging.WithChannelID(ctx, fc.ChannelID)
	ctx = logging.WithTeamID(ctx, fc.TeamID)

	d, cls := p.decide(ctx, e, fc, dryRun)
	tracing.Decided(span, string(d.Stage), string(d.Action), d.AppliedRules)
	if e != nil {
		settle(e, cls, d)
	}

	metrics.ObserveDecision(string(d.Stage), string(d.Action), time.Since(start))
	p.logger.DebugwCtx(ctx, "Decision produced",
		"stage", d.Stage,
		"action", d.Action,
		"reason", d.Reason,
		"applied_rules", d.AppliedRules,
	)
	return d
}

// decide converts any panic below it into a fail-open allow.
func (p *Pipeline) decide(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext, dryRun bool) (d decision.FilterDecision, cls classification.EventClassification) {
	defer func() {
		if r := recover(); r != nil {
			err := pkgerrors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Decision pipeline panicked, failing open",
				"error", err,
			)
			d = failOpen(err)
		}
	}()

	if e == nil {
		return failOpen(fmt.Errorf("nil event")), cls
	}

	cls = p.classifier.Classify(e)

	if cls.Urgency == event.UrgencyCritical {
		d = decision.Allow(decision.StageCriticalOverride, ReasonCritical, 1.0).
			WithRules(RuleCriticalOverride).
			WithUrgency(event.UrgencyCritical)
		return d, cls
	}

	var (
		override    event.Urgency
		overrideIDs []string
	)
	if p.rules != nil {
		outcome := p.rules.Evaluate(ctx, e, cls, fc)
		if outcome.Decision != nil {
			return *outcome.Decision, cls
		}
		if outcome.Matched && outcome.UrgencyOverride != "" {
			override = outcome.UrgencyOverride
			overrideIDs = []string{outcome.RuleID}
		}
	}

	d = p.afterRules(ctx, e, fc, dryRun)
	if override != "" {
		d = d.WithUrgency(override)
		d.AppliedRules = append(overrideIDs, d.AppliedRules...)
	}
	return d, cls
}

func (p *Pipeline) afterRules(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext, dryRun bool) decision.FilterDecision {
	if p.suppressor != nil && !dryRun {
		if d := p.suppressor.Check(ctx, e, fc); d != nil {
			return *d
		}
	}

	if d, ok := p.heuristics(e, fc); ok {
		return d
	}

	return decision.Allow(decision.StageDefault, ReasonDefault, 0.5).WithRules(RuleDefault)
}

func failOpen(err error) decision.FilterDecision {
	reason := ReasonFailOpen
	if err != nil {
		reason = fmt.Sprintf("%s: %v", ReasonFailOpen, err)
	}
	return decision.Allow(decision.StageFailOpen, reason, 0.1).WithRules(RuleFailOpen)
}

// settle writes the final urgency onto the event and freezes it.
func settle(e *event.NotificationEvent, cls classification.EventClassification, d decision.FilterDecision) {
	urgency := cls.Urgency
	if d.UrgencyOverride != "" {
		urgency = d.UrgencyOverride
	}
	if urgency == "" {
		urgency = event.UrgencyMedium
	}
	e.SetUrgency(urgency)
	e.Freeze()
}
