package validators

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/pkg/geospatial"
)

// Handler handles HTTP requests for the validator registry
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler creates a new validators handler
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers validator routes. guard runs before the
// registration endpoint.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, guard ...gin.HandlerFunc) {
	validators := router.Group("/validators")
	{
		validators.POST("", append(guard, h.register)...)
		validators.GET("", h.listActive)
		validators.GET("/nearby", h.findNearby)
		validators.GET("/:address", h.get)
		validators.GET("/:address/stats", h.stats)
	}
}

// register handles POST /api/v1/validators
func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := h.registry.Register(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to register validator", err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// listActive handles GET /api/v1/validators
func (h *Handler) listActive(c *gin.Context) {
	list, err := h.registry.ListActive(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list validators", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validators": list, "total": len(list)})
}

// findNearby handles GET /api/v1/validators/nearby?lat=&lng=&category=&max_km=
func (h *Handler) findNearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	category := Category(c.Query("category"))
	if !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	maxKm, _ := strconv.ParseFloat(c.DefaultQuery("max_km", "0"), 64)

	candidates, err := h.registry.FindNearby(c.Request.Context(),
		geospatial.Coordinate{Lat: lat, Lng: lng}, category, maxKm)
	if err != nil {
		h.writeError(c, "Failed to search validators", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "total": len(candidates)})
}

// get handles GET /api/v1/validators/:address
func (h *Handler) get(c *gin.Context) {
	v, err := h.registry.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, "Failed to get validator", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// stats handles GET /api/v1/validators/:address/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.registry.Stats(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, "Failed to get validator stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, ErrValidatorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrValidatorExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidValidator):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
