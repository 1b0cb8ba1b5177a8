package management

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"hush/internal/analytics"
	"hush/internal/batching"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/logger"
	"hush/internal/rules"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/middleware"
	"hush/pkg/models"
)

const (
	ruleTypeFilter      = "filter_rule"
	ruleTypeBatchConfig = "batch_config"
)

type service struct {
	repo           rules.Repository
	engine         RuleEngine
	batches        BatchEngine
	batchRepo      batching.ConfigRepository
	sender         BatchSender
	evaluator      Evaluator
	events         EventFactory
	stats          StatsSource
	decisionLog    analytics.DecisionLog
	versioningRepo VersioningRepository
	broadcaster    *ConfigBroadcaster
	logger         logger.Logger
}

type ServiceOption func(*service)

func WithVersioning(versioningRepo VersioningRepository) ServiceOption {
	return func(s *service) {
		s.versioningRepo = versioningRepo
	}
}

func WithBroadcaster(b *ConfigBroadcaster) ServiceOption {
	return func(s *service) {
		s.broadcaster = b
	}
}

func WithBatching(engine BatchEngine, repo batching.ConfigRepository, sender BatchSender) ServiceOption {
	return func(s *service) {
		s.batches = engine
		s.batchRepo = repo
		s.sender = sender
	}
}

func WithEvaluator(evaluator Evaluator, events EventFactory) ServiceOption {
	return func(s *service) {
		s.evaluator = evaluator
		s.events = events
	}
}

func WithStats(stats StatsSource) ServiceOption {
	return func(s *service) {
		s.stats = stats
	}
}

func WithDecisionLog(log analytics.DecisionLog) ServiceOption {
	return func(s *service) {
		s.decisionLog = log
	}
}

func NewService(repo rules.Repository, engine RuleEngine, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:   repo,
		engine: engine,
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*rules.FilterRule, error) {
	if err := ValidateCreateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := ruleFromRequest(req)
	rule.ID = uuid.New().String()
	if err := s.engine.ValidateRule(rule); err != nil {
		return nil, err
	}

	if err := s.repo.CreateRule(ctx, &rule); err != nil {
		return nil, repoError(err)
	}
	s.applyLocally(ctx, rule)

	s.createVersionAndAudit(ctx, rule, models.ActionCreate, nil)
	s.publishRuleEvent(ctx, models.ActionCreate, rule)
	return &rule, nil
}

func (s *service) ListRules(ctx context.Context, teamID *string) ([]rules.FilterRule, error) {
	list, err := s.repo.ListRules(ctx, rules.ListFilter{TeamID: teamID})
	if err != nil {
		return nil, repoError(err)
	}
	if list == nil {
		list = []rules.FilterRule{}
	}
	return list, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*rules.FilterRule, error) {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*rules.FilterRule, error) {
	if err := ValidateUpdateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, repoError(err)
	}
	oldValue := toMap(rule)

	applyUpdate(rule, req)
	if err := s.engine.ValidateRule(*rule); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, repoError(err)
	}
	s.applyLocally(ctx, *rule)

	s.createVersionAndAudit(ctx, *rule, models.ActionUpdate, oldValue)
	s.publishRuleEvent(ctx, models.ActionUpdate, *rule)
	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return repoError(err)
	}

	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return repoError(err)
	}
	if err := s.engine.RemoveRule(id); err != nil && !pkgerrors.IsNotFound(err) {
		s.logger.WarnwCtx(ctx, "Failed to remove rule from engine", "rule_id", id, "error", err)
	}

	s.audit(ctx, id, ruleTypeFilter, models.ActionDelete, toMap(rule), nil)
	s.publishRuleEvent(ctx, models.ActionDelete, *rule)
	return nil
}

func (s *service) GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithCause(errVersioningDisabled)
	}
	versions, err := s.versioningRepo.ListVersions(ctx, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return versions, nil
}

func (s *service) GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithCause(errVersioningDisabled)
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	filter := AuditFilter{RuleType: ruleType, Limit: limit}
	if ruleID != nil {
		filter.RuleID = *ruleID
	}
	logs, err := s.versioningRepo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

func (s *service) UpdateBatchConfig(ctx context.Context, channelID string, req BatchConfigRequest) (*BatchConfigResponse, error) {
	if s.batches == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "batching not configured")
	}
	cfg, err := parseBatchConfig(req)
	if err != nil {
		return nil, pkgerrors.ErrConfiguration.WithCause(err)
	}
	if err := s.batches.UpdateBatchConfig(channelID, cfg); err != nil {
		return nil, err
	}

	action := models.ActionUpdate
	if s.batchRepo != nil {
		if cfg.MaxBatchSize == 0 && cfg.MaxBatchAge == 0 {
			action = models.ActionDelete
			if err := s.batchRepo.DeleteChannelConfig(ctx, channelID); err != nil && !pkgerrors.IsNotFound(err) {
				return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
			}
		} else if _, err := s.batchRepo.UpsertChannelConfig(ctx, channelID, cfg); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
	}

	s.audit(ctx, channelID, ruleTypeBatchConfig, action, nil, toMap(req))
	if err := s.broadcaster.ChannelConfigChanged(ctx, action, channelID); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish batch config event", "channel_id", channelID, "error", err)
	}

	return &BatchConfigResponse{
		ChannelID:    channelID,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxBatchAge:  cfg.MaxBatchAge.String(),
	}, nil
}

// FlushChannel finalizes the channel's open groups and dispatches them
// before returning. A batch the broker refuses is parked for retry; an error
// means one could be neither parked nor dead-lettered.
func (s *service) FlushChannel(ctx context.Context, channelID string) (*FlushResponse, error) {
	if s.batches == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "batching not configured")
	}
	if channelID == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "channel id is required")
	}

	batches := s.batches.Flush(ctx, channelID)
	resp := &FlushResponse{ChannelID: channelID, BatchIDs: make([]string, 0, len(batches))}
	for _, b := range batches {
		resp.Batches++
		resp.Events += len(b.Events)
		resp.BatchIDs = append(resp.BatchIDs, b.ID)
	}

	if s.sender != nil && len(batches) > 0 {
		if err := s.sender.SendBatches(ctx, batches); err != nil {
			return nil, pkgerrors.ErrServiceUnavailable.WithCause(err)
		}
	}
	return resp, nil
}

// Evaluate runs the pipeline in dry-run mode: no suppression history is
// written, nothing is batched and nothing is recorded.
func (s *service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if s.evaluator == nil || s.events == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "evaluation not configured")
	}

	env := models.NewEnvelope(req.Source, req.EventType).
		ID(req.ID).
		Payload(req.Payload).
		Route(req.TeamID, req.UserID, req.ChannelID).
		Signals(req.Signals).
		Build()

	ev := s.events.FromEnvelope(env)
	fc := decision.ContextFromEnvelope(env, ev)
	d := s.evaluator.DryRun(ctx, ev, fc)

	return &EvaluateResponse{
		EventID:  ev.ID,
		Urgency:  string(ev.Urgency()),
		Decision: d,
	}, nil
}

func (s *service) DecisionStats(context.Context) analytics.DecisionStats {
	if s.stats == nil {
		return analytics.DecisionStats{}
	}
	return s.stats.DecisionStats()
}

func (s *service) ChannelStats(_ context.Context, channelID string) (*batching.ChannelStats, error) {
	if s.batches == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "batching not configured")
	}
	stats, ok := s.batches.ChannelStats(channelID)
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("channel_id", channelID)
	}
	return &stats, nil
}

func (s *service) ListDecisions(ctx context.Context, q analytics.DecisionQuery) ([]analytics.DecisionRecord, error) {
	if s.decisionLog == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "decision log not configured")
	}
	records, err := s.decisionLog.ListDecisions(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return records, nil
}

func (s *service) ListFlushes(ctx context.Context, channelID string, limit int) ([]analytics.FlushRecord, error) {
	if s.decisionLog == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "decision log not configured")
	}
	records, err := s.decisionLog.ListFlushes(ctx, channelID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return records, nil
}

// applyLocally updates this replica's engine right away; the others follow
// the config update event.
func (s *service) applyLocally(ctx context.Context, rule rules.FilterRule) {
	if err := s.engine.AddRule(rule); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to apply rule to engine", "rule_id", rule.ID, "error", err)
	}
}

func (s *service) createVersionAndAudit(ctx context.Context, rule rules.FilterRule, action string, oldValue map[string]interface{}) {
	if s.versioningRepo == nil {
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return
	}

	version := &RuleVersion{
		RuleID:    rule.ID,
		RuleType:  ruleTypeFilter,
		RuleData:  data,
		ChangedBy: getChangedBy(ctx),
	}
	if err := s.versioningRepo.AppendVersion(ctx, version); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record rule version", "rule_id", rule.ID, "error", err)
	}

	s.audit(ctx, rule.ID, ruleTypeFilter, action, oldValue, toMap(rule))
}

func (s *service) audit(ctx context.Context, id, ruleType, action string, oldValue, newValue map[string]interface{}) {
	if s.versioningRepo == nil {
		return
	}
	entry := &AuditLog{
		RuleID:    &id,
		RuleType:  ruleType,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: getChangedBy(ctx),
	}
	if err := s.versioningRepo.RecordAudit(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log", "id", id, "error", err)
	}
}

func (s *service) publishRuleEvent(ctx context.Context, action string, rule rules.FilterRule) {
	if err := s.broadcaster.RuleChanged(ctx, action, rule); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish rule event", "rule_id", rule.ID, "error", err)
	}
}

// repoError keeps coded errors and hides the rest behind INTERNAL_ERROR.
func repoError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func getChangedBy(ctx context.Context) string {
	if id := middleware.UserID(ctx); id != "" {
		return id
	}
	return "system"
}
