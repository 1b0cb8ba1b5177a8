package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hush/internal/analytics"
	"hush/internal/constants"
	"hush/internal/logger"
	"hush/pkg/errors"
)

type Handler struct {
	Service Service
	Logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.GET("/:id/versions", h.GetRuleVersions)
			rules.GET("/:id/audit", h.GetRuleAuditLogs)
		}

		channels := v1.Group("/channels")
		{
			channels.PUT("/:id/batch-config", h.UpdateBatchConfig)
			channels.POST("/:id/flush", h.FlushChannel)
			channels.GET("/:id/flushes", h.ListFlushes)
		}

		decisions := v1.Group("/decisions")
		{
			decisions.POST("/evaluate", h.Evaluate)
			decisions.GET("", h.ListDecisions)
		}

		stats := v1.Group("/stats")
		{
			stats.GET("/decisions", h.DecisionStats)
			stats.GET("/channels/:id", h.ChannelStats)
		}

		v1.GET("/audit/logs", h.GetAuditLogs)
	}
}

// ListRules godoc
// @Summary      List filter rules
// @Description  List rules in evaluation order, optionally for one team
// @Tags         rules
// @Produce      json
// @Param        team_id  query     string  false  "Team ID"
// @Success      200      {array}   rules.FilterRule
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	var teamID *string
	if v, ok := c.GetQuery("team_id"); ok {
		teamID = &v
	}

	list, err := h.Service.ListRules(c.Request.Context(), teamID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateRule godoc
// @Summary      Create a filter rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Rule"
// @Success      201   {object}  rules.FilterRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      422   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get a filter rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  rules.FilterRule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a filter rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Changed fields"
// @Success      200   {object}  rules.FilterRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      422   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a filter rule
// @Tags         rules
// @Param        id   path      string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRuleVersions godoc
// @Summary      Rule version history
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   RuleVersion
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /rules/{id}/versions [get]
func (h *Handler) GetRuleVersions(c *gin.Context) {
	versions, err := h.Service.GetRuleVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// GetRuleAuditLogs godoc
// @Summary      Audit logs for a rule
// @Tags         rules
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Maximum number of logs to return (1-1000)" default(100)
// @Success      200    {array}   AuditLog
// @Router       /rules/{id}/audit [get]
func (h *Handler) GetRuleAuditLogs(c *gin.Context) {
	id := c.Param("id")
	logs, err := h.Service.GetAuditLogs(c.Request.Context(), &id, "", parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAuditLogs godoc
// @Summary      Audit logs
// @Tags         audit
// @Produce      json
// @Param        rule_id    query     string  false  "Filter by rule or channel ID"
// @Param        rule_type  query     string  false  "Filter by type (filter_rule, batch_config)"
// @Param        limit      query     int     false  "Maximum number of logs to return (1-1000)" default(100)
// @Success      200        {array}   AuditLog
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	var ruleID *string
	if v := c.Query("rule_id"); v != "" {
		ruleID = &v
	}

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), ruleID, c.Query("rule_type"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// UpdateBatchConfig godoc
// @Summary      Set a channel's batching thresholds
// @Description  Applies to groups opened after the change. Zero values remove the override.
// @Tags         channels
// @Accept       json
// @Produce      json
// @Param        id      path      string              true  "Channel ID"
// @Param        config  body      BatchConfigRequest  true  "Thresholds"
// @Success      200     {object}  BatchConfigResponse
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      422     {object}  errors.ErrorResponse
// @Router       /channels/{id}/batch-config [put]
func (h *Handler) UpdateBatchConfig(c *gin.Context) {
	var req BatchConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	resp, err := h.Service.UpdateBatchConfig(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FlushChannel godoc
// @Summary      Flush a channel
// @Description  Finalizes and dispatches every open batch of the channel
// @Tags         channels
// @Produce      json
// @Param        id   path      string  true  "Channel ID"
// @Success      200  {object}  FlushResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /channels/{id}/flush [post]
func (h *Handler) FlushChannel(c *gin.Context) {
	resp, err := h.Service.FlushChannel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Evaluate godoc
// @Summary      Dry-run a decision
// @Description  Runs the decision pipeline without recording, suppressing or batching
// @Tags         decisions
// @Accept       json
// @Produce      json
// @Param        event  body      EvaluateRequest  true  "Event and filter context"
// @Success      200    {object}  EvaluateResponse
// @Failure      400    {object}  errors.ErrorResponse
// @Router       /decisions/evaluate [post]
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	resp, err := h.Service.Evaluate(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListDecisions godoc
// @Summary      Recorded decisions
// @Tags         decisions
// @Produce      json
// @Param        event_id    query     string  false  "Event ID"
// @Param        team_id     query     string  false  "Team ID"
// @Param        channel_id  query     string  false  "Channel ID"
// @Param        action      query     string  false  "allow or block"
// @Param        limit       query     int     false  "Maximum number of records (1-1000)" default(100)
// @Success      200         {array}   analytics.DecisionRecord
// @Failure      503         {object}  errors.ErrorResponse
// @Router       /decisions [get]
func (h *Handler) ListDecisions(c *gin.Context) {
	q := analytics.DecisionQuery{
		EventID:   c.Query("event_id"),
		TeamID:    c.Query("team_id"),
		ChannelID: c.Query("channel_id"),
		Action:    c.Query("action"),
		Limit:     parseLimit(c.Query("limit")),
	}
	records, err := h.Service.ListDecisions(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// ListFlushes godoc
// @Summary      Recorded batch flushes of a channel
// @Tags         channels
// @Produce      json
// @Param        id     path      string  true   "Channel ID"
// @Param        limit  query     int     false  "Maximum number of records (1-1000)" default(100)
// @Success      200    {array}   analytics.FlushRecord
// @Failure      503    {object}  errors.ErrorResponse
// @Router       /channels/{id}/flushes [get]
func (h *Handler) ListFlushes(c *gin.Context) {
	records, err := h.Service.ListFlushes(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// DecisionStats godoc
// @Summary      Decision counters
// @Tags         stats
// @Produce      json
// @Success      200  {object}  analytics.DecisionStats
// @Router       /stats/decisions [get]
func (h *Handler) DecisionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.DecisionStats(c.Request.Context()))
}

// ChannelStats godoc
// @Summary      Batching state of a channel
// @Tags         stats
// @Produce      json
// @Param        id   path      string  true  "Channel ID"
// @Success      200  {object}  batching.ChannelStats
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /stats/channels/{id} [get]
func (h *Handler) ChannelStats(c *gin.Context) {
	stats, err := h.Service.ChannelStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
