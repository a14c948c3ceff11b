package scheduler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/auth"
)

// Handler exposes a manual sweep trigger
type Handler struct {
	sweeper *DeadlineSweeper
	tokens  *auth.TokenManager
	logger  *zap.Logger
}

// NewHandler creates a new sweep handler
func NewHandler(sweeper *DeadlineSweeper, tokens *auth.TokenManager, logger *zap.Logger) *Handler {
	return &Handler{sweeper: sweeper, tokens: tokens, logger: logger}
}

// RegisterRoutes registers POST /sweep for operators
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sweep", auth.RequireRole(h.tokens, auth.RoleOperator), h.sweep)
}

func (h *Handler) sweep(c *gin.Context) {
	result, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
