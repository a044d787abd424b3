package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/upstream"
	"go.uber.org/zap"
)

func TestHandleGateError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "auth required",
			err:            &authgate.AuthRequiredError{Operation: "listItems"},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "signed out",
			err:            cognito.ErrSignedOut,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "session revoked",
			err:            fmt.Errorf("refresh tokens: %w", cognito.ErrSessionRevoked),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "permission denied",
			err:            fmt.Errorf("GET /items: %w", authgate.ErrPermissionDenied),
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
		{
			name:           "not found",
			err:            authgate.ErrNotFound,
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "already exists",
			err:            authgate.ErrAlreadyExists,
			expectedStatus: http.StatusConflict,
			expectedError:  "conflict",
		},
		{
			name:           "deadline exceeded",
			err:            fmt.Errorf("GET /items: %w", context.DeadlineExceeded),
			expectedStatus: http.StatusGatewayTimeout,
			expectedError:  "gateway_timeout",
		},
		{
			name:           "canceled",
			err:            context.Canceled,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "service_unavailable",
		},
		{
			name:           "upstream status",
			err:            &upstream.StatusError{Method: http.MethodGet, Path: "/items", StatusCode: http.StatusTeapot},
			expectedStatus: http.StatusBadGateway,
			expectedError:  "bad_gateway",
		},
		{
			name:           "panic",
			err:            &authgate.PanicError{Value: "boom"},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "unknown error",
			err:            errors.New("connection reset by peer"),
			expectedStatus: http.StatusBadGateway,
			expectedError:  "bad_gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleGateError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			response := decodeError(t, w)
			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestHandleGateErrorPanicHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	HandleGateError(w, &authgate.PanicError{Value: "secret state"}, zap.NewNop())

	assert.NotContains(t, w.Body.String(), "secret state")
}

func TestHandleGateErrorNil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleGateError(w, nil, zap.NewNop())

	// Should not write anything
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
