package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/auth"
)

// RegisterRoutes exposes GET /ws for validators holding a bearer token. The
// socket is bound to the token subject.
func (m *Manager) RegisterRoutes(router gin.IRoutes, tokens *auth.TokenManager) {
	router.GET("/ws", auth.RequireRole(tokens, auth.RoleValidator), m.serve)
}

func (m *Manager) serve(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok || claims.Subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing validator identity"})
		return
	}

	// the upgrader has already answered the client on failure
	if _, err := m.HandleConnection(c.Writer, c.Request, claims.Subject); err != nil {
		m.logger.Warn("Websocket connection rejected",
			zap.String("validator", claims.Subject),
			zap.Error(err))
	}
}
