package projects

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/auth"
)

// Handler handles HTTP requests for project escrows
type Handler struct {
	engine *Engine
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewHandler creates a new projects handler
func NewHandler(engine *Engine, tokens *auth.TokenManager, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		tokens: tokens,
		logger: logger,
	}
}

// RegisterRoutes registers project routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	operator := auth.RequireRole(h.tokens, auth.RoleOperator)
	validator := auth.RequireRole(h.tokens, auth.RoleValidator)

	projects := router.Group("/projects")
	{
		projects.POST("", operator, h.create)
		projects.GET("", h.list)
		projects.GET("/stats", h.stats)
		projects.GET("/map", h.pins)
		projects.GET("/:id", h.get)
		projects.POST("/:id/proofs", validator, h.addProof)
		projects.POST("/:id/release", operator, h.release)
		projects.POST("/:id/evaluate", operator, h.evaluate)
		projects.POST("/:id/clawback", operator, h.clawback)
	}
}

// create handles POST /api/v1/projects
func (h *Handler) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to create project", nil, err)
		return
	}
	c.JSON(http.StatusCreated, NewView(p, h.engine.Now()))
}

// list handles GET /api/v1/projects?open=true
func (h *Handler) list(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		all []*Project
		err error
	)
	if c.Query("open") == "true" {
		all, err = h.engine.ListOpen(ctx)
	} else {
		all, err = h.engine.List(ctx)
	}
	if err != nil {
		h.writeError(c, "Failed to list projects", nil, err)
		return
	}

	now := h.engine.Now()
	views := make([]View, 0, len(all))
	for _, p := range all {
		views = append(views, NewView(p, now))
	}
	c.JSON(http.StatusOK, gin.H{"projects": views, "total": len(views)})
}

// get handles GET /api/v1/projects/:id
func (h *Handler) get(c *gin.Context) {
	p, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get project", nil, err)
		return
	}
	c.JSON(http.StatusOK, NewView(p, h.engine.Now()))
}

// stats handles GET /api/v1/projects/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to compute stats", nil, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// pins handles GET /api/v1/projects/map
func (h *Handler) pins(c *gin.Context) {
	fc, err := h.engine.Map(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to build project map", nil, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}

// addProof handles POST /api/v1/projects/:id/proofs. The token subject must
// be the submitting validator.
func (h *Handler) addProof(c *gin.Context) {
	var sub ProofSubmission
	claims, _ := auth.ClaimsFrom(c)
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if claims == nil || claims.Subject != sub.ValidatorAddress {
		c.JSON(http.StatusForbidden, gin.H{"error": "token subject does not match validator_address"})
		return
	}

	p, err := h.engine.AddProof(c.Request.Context(), c.Param("id"), sub)
	if err != nil {
		h.writeError(c, "Failed to add proof", p, err)
		return
	}
	c.JSON(http.StatusOK, NewView(p, h.engine.Now()))
}

// release handles POST /api/v1/projects/:id/release
func (h *Handler) release(c *gin.Context) {
	p, err := h.engine.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to release project", p, err)
		return
	}
	c.JSON(http.StatusOK, NewView(p, h.engine.Now()))
}

// evaluate handles POST /api/v1/projects/:id/evaluate
func (h *Handler) evaluate(c *gin.Context) {
	p, err := h.engine.EvaluateDeadline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to evaluate deadline", p, err)
		return
	}
	c.JSON(http.StatusOK, NewView(p, h.engine.Now()))
}

// clawback handles POST /api/v1/projects/:id/clawback
func (h *Handler) clawback(c *gin.Context) {
	p, err := h.engine.Clawback(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to claw back project", p, err)
		return
	}
	c.JSON(http.StatusOK, NewView(p, h.engine.Now()))
}

func (h *Handler) writeError(c *gin.Context, msg string, p *Project, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidSpec), errors.Is(err, ErrInvalidProof):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorizedValidator):
		status = http.StatusForbidden
	case errors.Is(err, ErrOutOfRange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrDuplicateProof), IsOrdering(err):
		status = http.StatusConflict
	case errors.Is(err, ErrLedgerTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, ErrLedgerUnavailable):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("project_id", c.Param("id")), zap.Error(err))
	}

	body := gin.H{"error": err.Error()}
	if p != nil {
		body["project"] = NewView(p, h.engine.Now())
	}
	c.JSON(status, body)
}
