package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *TokenManager {
	tm, err := NewTokenManager("test-secret", "impactd", time.Hour)
	require.NoError(t, err)
	return tm
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", "impactd", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssueAndValidate(t *testing.T) {
	tm := newTestManager(t)

	token, err := tm.IssueToken("rValidatorSN1ABC123", RoleValidator)
	require.NoError(t, err)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "rValidatorSN1ABC123", claims.Subject)
	assert.Equal(t, RoleValidator, claims.Role)
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	tm := newTestManager(t)
	other, err := NewTokenManager("other-secret", "impactd", time.Hour)
	require.NoError(t, err)

	foreign, err := other.IssueToken("op", RoleOperator)
	require.NoError(t, err)
	_, err = tm.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err := tm.IssueToken("op", RoleOperator)
	require.NoError(t, err)
	tm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tm.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := newTestManager(t)

	router := gin.New()
	router.GET("/ops", RequireRole(tm, RoleOperator), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	operator, err := tm.IssueToken("alice", RoleOperator)
	require.NoError(t, err)
	validator, err := tm.IssueToken("rV", RoleValidator)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + validator, http.StatusForbidden},
		{"operator", "Bearer " + operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireRoleNilManagerFailsClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", RequireRole(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
