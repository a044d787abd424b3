package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgate/app"
	"github.com/upb/authgate/config"
	"go.uber.org/zap"
)

func testDependencies(t *testing.T, metricsEnabled bool) *app.Dependencies {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			WriteTimeout:   5 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Cognito: config.CognitoConfig{
			Region:      "us-east-1",
			UserPoolID:  "us-east-1_test",
			ClientID:    "test-client-id",
			RedirectURI: "http://127.0.0.1:8787/auth/callback",
		},
		Gate: config.GateConfig{
			WaitTimeout: 50 * time.Millisecond,
			MaxRetries:  1,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: metricsEnabled,
		},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	return deps
}

func TestSetupRoutes(t *testing.T) {
	router := SetupRoutes(testDependencies(t, true))

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"liveness", http.MethodGet, "/healthz", http.StatusOK},
		{"readiness while signed out", http.MethodGet, "/readyz", http.StatusServiceUnavailable},
		{"session requires sign in", http.MethodGet, "/v1/session", http.StatusUnauthorized},
		{"token requires sign in", http.MethodGet, "/v1/token", http.StatusUnauthorized},
		{"sign out", http.MethodPost, "/v1/signout", http.StatusNoContent},
		{"upstream not configured", http.MethodGet, "/v1/upstream/items", http.StatusServiceUnavailable},
		{"hosted ui not configured", http.MethodGet, "/auth/login", http.StatusInternalServerError},
		{"logout needs post", http.MethodGet, "/auth/logout", http.StatusMethodNotAllowed},
		{"logout without hosted ui", http.MethodPost, "/auth/logout", http.StatusInternalServerError},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"wrong method", http.MethodGet, "/v1/signout", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}

	t.Run("json not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())
	})

	t.Run("request id header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "req-123")
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cors preflight for allowed origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/session", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		router.ServeHTTP(rec, req)

		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("metrics expose gate counters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "authgate_wait_total"))
	})
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	router := SetupRoutes(testDependencies(t, false))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
