package management

import (
	"fmt"
	"strings"
	"time"

	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/event"
	"hush/internal/rules"
)

func ValidateCreateRule(req CreateRuleRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateAction(req.Action, req.Urgency); err != nil {
		return err
	}
	if req.Condition != nil && req.Expression != "" {
		return fmt.Errorf("condition and expression are mutually exclusive")
	}
	return nil
}

// ValidateUpdateRule checks the fields on their own; the merged rule is
// validated again by the engine.
func ValidateUpdateRule(req UpdateRuleRequest) error {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if req.Action != nil && !decision.Action(*req.Action).Valid() {
		return fmt.Errorf("action must be one of allow, block, modify_urgency")
	}
	if req.Urgency != nil && *req.Urgency != "" && !event.Urgency(*req.Urgency).Valid() {
		return fmt.Errorf("unknown urgency %q", *req.Urgency)
	}
	return nil
}

func validateAction(action, urgency string) error {
	a := decision.Action(action)
	if !a.Valid() {
		return fmt.Errorf("action must be one of allow, block, modify_urgency")
	}
	if a == decision.ActionModifyUrgency && !event.Urgency(urgency).Valid() {
		return fmt.Errorf("modify_urgency requires a valid urgency")
	}
	return nil
}

func ruleFromRequest(req CreateRuleRequest) rules.FilterRule {
	return rules.FilterRule{
		Name:       strings.TrimSpace(req.Name),
		TeamID:     req.TeamID,
		ChannelID:  req.ChannelID,
		Condition:  req.Condition,
		Expression: req.Expression,
		Action:     decision.Action(req.Action),
		Urgency:    event.Urgency(req.Urgency),
		Priority:   req.Priority,
		Enabled:    getEnabledValue(req.Enabled),
	}
}

func applyUpdate(rule *rules.FilterRule, req UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.ChannelID != nil {
		rule.ChannelID = *req.ChannelID
	}
	if req.Condition != nil {
		rule.Condition = req.Condition
		rule.Expression = ""
	}
	if req.Expression != nil {
		rule.Expression = *req.Expression
		if *req.Expression != "" {
			rule.Condition = nil
		}
	}
	if req.Action != nil {
		rule.Action = decision.Action(*req.Action)
	}
	if req.Urgency != nil {
		rule.Urgency = event.Urgency(*req.Urgency)
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}

func parseBatchConfig(req BatchConfigRequest) (config.ChannelBatchConfig, error) {
	cfg := config.ChannelBatchConfig{MaxBatchSize: req.MaxBatchSize}
	if req.MaxBatchAge != "" {
		age, err := time.ParseDuration(req.MaxBatchAge)
		if err != nil {
			return cfg, fmt.Errorf("max_batch_age: %w", err)
		}
		cfg.MaxBatchAge = age
	}
	if err := config.ValidateChannelBatch(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnabledValue(reqEnabled *bool) bool {
	if reqEnabled == nil {
		return true
	}
	return *reqEnabled
}
