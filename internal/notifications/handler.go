package notifications

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/auth"
)

// Handler handles HTTP requests for validator notifications
type Handler struct {
	dispatcher *Dispatcher
	tokens     *auth.TokenManager
	logger     *zap.Logger
}

// NewHandler creates a new notifications handler
func NewHandler(dispatcher *Dispatcher, tokens *auth.TokenManager, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		tokens:     tokens,
		logger:     logger,
	}
}

// RegisterRoutes registers notification routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	operator := auth.RequireRole(h.tokens, auth.RoleOperator)
	validator := auth.RequireRole(h.tokens, auth.RoleValidator)

	notifications := router.Group("/notifications")
	{
		notifications.POST("", operator, h.dispatch)
		notifications.GET("", operator, h.listByProject)
		notifications.GET("/mine", validator, h.listMine)
		notifications.POST("/:id/respond", validator, h.respond)
	}
}

// dispatch handles POST /api/v1/notifications
func (h *Handler) dispatch(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.dispatcher.NotifyValidators(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to notify validators", err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// listByProject handles GET /api/v1/notifications?project_id=
func (h *Handler) listByProject(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}

	list, err := h.dispatcher.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "total": len(list)})
}

// listMine handles GET /api/v1/notifications/mine
func (h *Handler) listMine(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	list, err := h.dispatcher.ListByValidator(c.Request.Context(), claims.Subject)
	if err != nil {
		h.writeError(c, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "total": len(list)})
}

// respond handles POST /api/v1/notifications/:id/respond
func (h *Handler) respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	n, err := h.dispatcher.Respond(c.Request.Context(), c.Param("id"), claims.Subject, req.Status)
	if err != nil {
		h.writeError(c, "Failed to record response", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotRecipient):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
