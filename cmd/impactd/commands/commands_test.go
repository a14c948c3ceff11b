package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/auth"
	"impact-escrow/escrow-engine/internal/config"
)

func newTestApp(t *testing.T) (*app, *auth.TokenManager) {
	gin.SetMode(gin.TestMode)
	cfg = config.Default()
	cfg.Logging.Level = "debug"
	cfg.Server.AllowedOrigins = []string{"https://ops.example.org"}
	logger = zap.NewNop()

	a, err := buildApp(context.Background(), cfg, logger, false)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	tokens, err := auth.NewTokenManager("test-secret", "impactd", time.Hour)
	require.NoError(t, err)
	return a, tokens
}

func TestBuildAppInMemory(t *testing.T) {
	a, _ := newTestApp(t)

	require.NotNil(t, a.sockets)
	active, err := a.registry.ListActive(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, active)

	result, err := a.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
}

func TestRouter(t *testing.T) {
	a, tokens := newTestApp(t)
	router := newRouter(a, tokens)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/validators", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sweep", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out := &bytes.Buffer{}
	RootCmd.SetOut(out)
	RootCmd.SetArgs([]string{
		"token", "GVALIDATOR", "--role", auth.RoleOperator,
		"--config", filepath.Join(t.TempDir(), "none.json"),
		"--env-file", filepath.Join(t.TempDir(), "none.env"),
	})
	require.NoError(t, RootCmd.Execute())

	tokens, err := auth.NewTokenManager("cli-secret", cfg.Security.TokenIssuer, time.Hour)
	require.NoError(t, err)
	claims, err := tokens.Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "GVALIDATOR", claims.Subject)
	assert.Equal(t, auth.RoleOperator, claims.Role)

	RootCmd.SetArgs([]string{"token", "GVALIDATOR", "--role", "admin",
		"--config", filepath.Join(t.TempDir(), "none.json")})
	assert.Error(t, RootCmd.Execute())
}
