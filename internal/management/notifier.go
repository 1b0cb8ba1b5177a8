package management

import (
	"context"
	"time"

	"hush/internal/broker"
	"hush/internal/constants"
	"hush/internal/rules"
	"hush/pkg/models"
)

// ConfigBroadcaster announces rule and batch config changes on the config
// update topic. The replica that made the change has already applied it;
// the broadcast is for the others.
type ConfigBroadcaster struct {
	producer broker.Producer
	topic    string
}

func NewConfigBroadcaster(producer broker.Producer, topic string) *ConfigBroadcaster {
	return &ConfigBroadcaster{producer: producer, topic: topic}
}

func (b *ConfigBroadcaster) RuleChanged(ctx context.Context, action string, rule rules.FilterRule) error {
	return b.send(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeRuleUpdated,
		ServiceType: models.ServiceTypeRules,
		RuleID:      rule.ID,
		TeamID:      rule.TeamID,
		Action:      action,
	})
}

func (b *ConfigBroadcaster) ChannelConfigChanged(ctx context.Context, action, channelID string) error {
	return b.send(ctx, models.ConfigUpdateEvent{
		EventType:   models.EventTypeBatchConfigUpdated,
		ServiceType: models.ServiceTypeBatching,
		ChannelID:   channelID,
		Action:      action,
	})
}

// send is a no-op on a nil broadcaster so the service works without a broker.
func (b *ConfigBroadcaster) send(ctx context.Context, ev models.ConfigUpdateEvent) error {
	if b == nil || b.producer == nil || b.topic == "" {
		return nil
	}
	ev.Timestamp = time.Now().UTC()
	ev.ChangedBy = getChangedBy(ctx)

	env, err := ev.Envelope(constants.ServiceName)
	if err != nil {
		return err
	}
	return b.producer.Publish(ctx, b.topic, env)
}
