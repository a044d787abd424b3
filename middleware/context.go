package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authgate/authgate"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the signed-in principal
	PrincipalKey contextKey = "principal"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetPrincipalFromContext retrieves the principal stored by RequireAuth
func GetPrincipalFromContext(ctx context.Context) authgate.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if p, ok := val.(authgate.Principal); ok {
			return p
		}
	}
	return nil
}

// WithPrincipal adds the principal to the context
func WithPrincipal(ctx context.Context, p authgate.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}
