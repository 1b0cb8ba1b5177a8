package integration

import (
	"time"

	"hush/internal/config"
	"hush/internal/constants"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/logger"
	"hush/internal/rules"
	"hush/pkg/models"
)

const (
	containerStartupTimeout = 60 * time.Second
	timestampDelay          = 10 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestFilteringConfig() config.FilteringConfig {
	return config.FilteringConfig{
		Fallback: config.FallbackConfig{
			OnError: constants.FallbackAllow,
		},
		Reload: config.ReloadConfig{
			IntervalSeconds: 60,
		},
	}
}

func createTestSuppressionConfig() config.SuppressionConfig {
	return config.SuppressionConfig{
		Store:            constants.StoreRedis,
		HashAlgorithm:    constants.HashSHA256,
		ContentRetention: time.Minute,
		FrequencyWindow:  time.Minute,
		FrequencyLimit:   3,
		OnStoreError:     constants.FallbackAllow,
	}
}

func createTestRule(name, teamID, expression string, priority int, enabled bool) *rules.FilterRule {
	return &rules.FilterRule{
		Name:       name,
		TeamID:     teamID,
		Expression: expression,
		Action:     decision.ActionBlock,
		Priority:   priority,
		Enabled:    enabled,
	}
}

func createTestMessage(id, source, eventType, channelID string, payload map[string]interface{}) models.MessageEnvelope {
	return models.NewEnvelope(source, eventType).
		ID(id).
		Payload(payload).
		Route("platform", "u1", channelID).
		Build()
}

func createTestEvent(id string, pr int, author string) *event.NotificationEvent {
	return event.New(event.Params{
		ID:     id,
		Source: event.SourceCodeReview,
		Type:   "comment_created",
		Payload: map[string]interface{}{
			"pull_request": map[string]interface{}{"number": pr},
			"comment":      map[string]interface{}{"author": author, "body": "nit: " + id},
		},
	})
}

func allowDecision() decision.FilterDecision {
	return decision.Allow(decision.StageDefault, "no applicable rule", 0.5)
}
