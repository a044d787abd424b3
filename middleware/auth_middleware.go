package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

// Authenticator resolves the principal for an operation
type Authenticator interface {
	RequireAuth(ctx context.Context, operationLabel string) (authgate.Principal, error)
}

// AuthMiddleware gates routes on the sidecar's signed-in user
type AuthMiddleware struct {
	auth   Authenticator
	logger *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(auth Authenticator, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		auth:   auth,
		logger: logger,
	}
}

// RequireAuth waits for the signed-in user and stores it in the request
// context. The operation label is the request method and path.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		principal, err := m.auth.RequireAuth(ctx, r.Method+" "+r.URL.Path)
		if err != nil {
			switch {
			case authgate.IsAuthRequired(err):
				m.logger.Debug("no signed in user",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path))
				_ = utils.WriteUnauthorized(w, err.Error())
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				_ = utils.WriteServiceUnavailable(w, "Request canceled")
			default:
				m.logger.Warn("auth provider error",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteUnauthorized(w, "Authentication failed")
			}
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("uid", principal.UID()))

		// Call next handler
		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}
