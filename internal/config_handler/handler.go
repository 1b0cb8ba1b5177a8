package config_handler

import (
	"context"

	"hush/internal/batching"
	"hush/internal/config"
	"hush/internal/logger"
	pkgerrors "hush/pkg/errors"
	"hush/pkg/models"
)

type RuleReloader interface {
	ReloadRules(ctx context.Context, skipJitter ...bool) error
}

type BatchConfigApplier interface {
	UpdateBatchConfig(channelID string, cfg config.ChannelBatchConfig) error
}

// Handler applies configuration changes broadcast on the config update
// topic so that every replica converges on the same rules and batch config.
type Handler struct {
	reloader RuleReloader
	configs  batching.ConfigRepository
	applier  BatchConfigApplier
	logger   logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{logger: log}
}

func (h *Handler) WithRuleReloader(reloader RuleReloader) *Handler {
	h.reloader = reloader
	return h
}

func (h *Handler) WithBatchConfig(repo batching.ConfigRepository, applier BatchConfigApplier) *Handler {
	h.configs = repo
	h.applier = applier
	return h
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	event, err := models.DecodeConfigUpdate(envelope)
	if err != nil {
		// redelivery will not fix a malformed event
		h.logger.Warnw("Dropping malformed config event", "id", envelope.ID, "error", err)
		return nil
	}

	h.logger.Infow("Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"rule_id", event.RuleID,
		"channel_id", event.ChannelID,
	)

	switch event.EventType {
	case models.EventTypeRuleUpdated:
		return h.reloadRules(ctx, event)
	case models.EventTypeBatchConfigUpdated:
		return h.applyBatchConfig(ctx, event)
	default:
		return nil
	}
}

func (h *Handler) reloadRules(ctx context.Context, event models.ConfigUpdateEvent) error {
	if h.reloader == nil {
		return nil
	}
	// jitter applies here too
	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.Errorw("Failed to reload rules after config update", "error", err)
		return err
	}
	h.logger.Infow("Rules reloaded after config update", "action", event.Action)
	return nil
}

func (h *Handler) applyBatchConfig(ctx context.Context, event models.ConfigUpdateEvent) error {
	if h.applier == nil {
		return nil
	}
	if event.ChannelID == "" {
		h.logger.Warnw("Batch config event missing channel_id", "action", event.Action)
		return nil
	}

	var cfg config.ChannelBatchConfig
	if event.Action != models.ActionDelete && h.configs != nil {
		cc, err := h.configs.GetChannelConfig(ctx, event.ChannelID)
		switch {
		case pkgerrors.IsNotFound(err):
		case err != nil:
			h.logger.Errorw("Failed to load channel batch config", "channel_id", event.ChannelID, "error", err)
			return err
		default:
			cfg = cc.Config
		}
	}

	if err := h.applier.UpdateBatchConfig(event.ChannelID, cfg); err != nil {
		h.logger.Errorw("Failed to apply channel batch config", "channel_id", event.ChannelID, "error", err)
		// a bad row will not get better on retry
		return nil
	}
	return nil
}
