package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// RequireRole rejects requests without a valid bearer token carrying one of
// roles. A nil manager rejects everything.
func RequireRole(tm *TokenManager, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tm == nil {
			abort(c, http.StatusUnauthorized, "Authentication not configured")
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}

		claims, err := tm.Validate(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			abort(c, http.StatusForbidden, "Insufficient role")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireRole
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func hasRole(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
