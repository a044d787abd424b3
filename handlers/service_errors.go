package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/upstream"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

// HandleGateError maps gate, session and upstream errors to HTTP responses
func HandleGateError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var (
		writeErr  error
		statusErr *upstream.StatusError
		panicErr  *authgate.PanicError
	)

	switch {
	case authgate.IsAuthRequired(err),
		errors.Is(err, cognito.ErrSignedOut),
		errors.Is(err, cognito.ErrSessionRevoked):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case errors.Is(err, authgate.ErrPermissionDenied):
		writeErr = utils.WriteForbidden(w, err.Error())

	case errors.Is(err, authgate.ErrNotFound):
		writeErr = utils.WriteNotFound(w, err.Error())

	case errors.Is(err, authgate.ErrAlreadyExists):
		writeErr = utils.WriteConflict(w, err.Error(), nil)

	case errors.Is(err, context.DeadlineExceeded):
		writeErr = utils.WriteError(w, http.StatusGatewayTimeout, err.Error(), nil)

	case errors.Is(err, context.Canceled):
		logger.Debug("request canceled", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Request canceled")

	case errors.As(err, &statusErr):
		writeErr = utils.WriteError(w, http.StatusBadGateway, err.Error(), map[string]interface{}{
			"upstream_status": statusErr.StatusCode,
		})

	case errors.As(err, &panicErr):
		// Log internal errors but return generic message
		logger.Error("operation panicked", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Warn("operation failed", zap.Error(err))
		writeErr = utils.WriteError(w, http.StatusBadGateway, err.Error(), nil)
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
