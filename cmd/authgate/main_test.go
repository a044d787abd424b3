package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgate/app"
	"github.com/upb/authgate/config"
	"github.com/upb/authgate/routes"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// Setup
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	// Run tests
	code := m.Run()

	// Teardown
	os.Exit(code)
}

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "invalid")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func TestApplicationStartup(t *testing.T) {
	t.Run("successful startup with a signed out session", func(t *testing.T) {
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := app.NewDependencies(context.Background(), cfg, logger)
		require.NoError(t, err)

		// Setup routes
		handler := routes.SetupRoutes(deps)
		require.NotNil(t, handler)

		// Create test server
		ts := httptest.NewServer(handler)
		defer ts.Close()

		// Test health check endpoint
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		require.NoError(t, err)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "healthy", data["status"])

		// Not ready until someone signs in
		ready, err := http.Get(ts.URL + "/readyz")
		require.NoError(t, err)
		defer ready.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
	})
}

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)

	srv := newServer(cfg, http.NotFoundHandler())

	assert.Equal(t, "127.0.0.1:18787", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadTimeout)
	assert.Equal(t, 5*time.Second, srv.WriteTimeout)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PORT", "0")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            18787,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Cognito: config.CognitoConfig{
			Region:      "us-east-1",
			UserPoolID:  "us-east-1_test",
			ClientID:    "test-client-id",
			RedirectURI: "http://127.0.0.1:8787/auth/callback",
		},
		Gate: config.GateConfig{
			WaitTimeout: 50 * time.Millisecond,
			MaxRetries:  3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}
