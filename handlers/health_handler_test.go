package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type authStatus bool

func (a authStatus) IsAuthenticated() bool { return bool(a) }

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("always returns healthy", func(t *testing.T) {
		handler := NewHealthHandler(authStatus(false), &stubSession{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()

		handler.HandleHealth(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Equal(t, "healthy", data["status"])
		assert.NotEmpty(t, data["timestamp"])
	})
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		authenticated  bool
		resolved       bool
		expectedStatus int
		expectedHealth string
		expectedCheck  string
	}{
		{"ready when signed in", true, true, http.StatusOK, "healthy", "authenticated"},
		{"not ready while the session is loading", false, false, http.StatusServiceUnavailable, "unhealthy", "pending"},
		{"not ready when signed out", false, true, http.StatusServiceUnavailable, "unhealthy", "signed_out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(authStatus(tt.authenticated), &stubSession{resolved: tt.resolved}, logger)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()

			handler.HandleReadiness(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			data := decodeData(t, w)
			assert.Equal(t, tt.expectedHealth, data["status"])

			checks, ok := data["checks"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.expectedCheck, checks["session"])
		})
	}
}
