package management

import (
	"context"

	"hush/internal/analytics"
	"hush/internal/batching"
	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/rules"
	"hush/pkg/models"
)

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*rules.FilterRule, error)
	ListRules(ctx context.Context, teamID *string) ([]rules.FilterRule, error)
	GetRule(ctx context.Context, id string) (*rules.FilterRule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*rules.FilterRule, error)
	DeleteRule(ctx context.Context, id string) error
	GetRuleVersions(ctx context.Context, ruleID string) ([]RuleVersion, error)
	GetAuditLogs(ctx context.Context, ruleID *string, ruleType string, limit int) ([]AuditLog, error)

	UpdateBatchConfig(ctx context.Context, channelID string, req BatchConfigRequest) (*BatchConfigResponse, error)
	FlushChannel(ctx context.Context, channelID string) (*FlushResponse, error)

	Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error)
	DecisionStats(ctx context.Context) analytics.DecisionStats
	ChannelStats(ctx context.Context, channelID string) (*batching.ChannelStats, error)
	ListDecisions(ctx context.Context, q analytics.DecisionQuery) ([]analytics.DecisionRecord, error)
	ListFlushes(ctx context.Context, channelID string, limit int) ([]analytics.FlushRecord, error)
}

// RuleEngine is the live ruleset the service keeps in step with the
// repository.
type RuleEngine interface {
	ValidateRule(rule rules.FilterRule) error
	AddRule(rule rules.FilterRule) error
	RemoveRule(id string) error
}

type BatchEngine interface {
	UpdateBatchConfig(channelID string, cfg config.ChannelBatchConfig) error
	Flush(ctx context.Context, channelID string) []batching.ReadyBatch
	ChannelStats(channelID string) (batching.ChannelStats, bool)
}

type Evaluator interface {
	DryRun(ctx context.Context, e *event.NotificationEvent, fc decision.FilterContext) decision.FilterDecision
}

type EventFactory interface {
	FromEnvelope(env models.MessageEnvelope) *event.NotificationEvent
}

type BatchSender interface {
	SendBatches(ctx context.Context, batches []batching.ReadyBatch) error
}

type StatsSource interface {
	DecisionStats() analytics.DecisionStats
}
