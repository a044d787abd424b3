package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/upstream"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

// maxProxyBody caps request bodies forwarded upstream
const maxProxyBody = 10 << 20

// Session is the sidecar session as seen by the HTTP layer
type Session interface {
	Resolved() bool
	SignOut()
}

// Upstream sends authenticated requests to the data API
type Upstream interface {
	Do(ctx context.Context, method, path string, body []byte, token string) (*upstream.Response, error)
}

// PrincipalResponse describes the signed-in user
type PrincipalResponse struct {
	UID      string   `json:"uid"`
	Email    string   `json:"email,omitempty"`
	Username string   `json:"username,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// TokenResponse carries a bearer token for local callers
type TokenResponse struct {
	IDToken string `json:"id_token"`
}

// GateHandler serves the local credential endpoints backed by the auth gate
type GateHandler struct {
	gate      *authgate.Gate
	session   Session
	upstream  Upstream
	logger    *zap.Logger
	retryOpts []authgate.RetryOption
}

// NewGateHandler creates a new GateHandler. upstreamClient may be nil when no
// data API is configured.
func NewGateHandler(gate *authgate.Gate, session Session, upstreamClient Upstream, logger *zap.Logger, retryOpts ...authgate.RetryOption) *GateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateHandler{
		gate:      gate,
		session:   session,
		upstream:  upstreamClient,
		logger:    logger.Named("handlers"),
		retryOpts: retryOpts,
	}
}

// HandleSession handles GET /v1/session. It uses the principal stored by
// AuthMiddleware when present.
func (h *GateHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		var err error
		principal, err = h.gate.RequireAuth(r.Context(), "getSession")
		if err != nil {
			HandleGateError(w, err, h.logger)
			return
		}
	}

	_ = utils.WriteOK(w, toPrincipalResponse(principal))
}

// HandleToken handles GET /v1/token?refresh=true|false
func (h *GateHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	forceRefresh := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "refresh must be a boolean", nil)
			return
		}
		forceRefresh = parsed
	}

	token, err := h.gate.IDToken(r.Context(), forceRefresh)
	if err != nil {
		HandleGateError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteOK(w, TokenResponse{IDToken: token})
}

// HandleUpstream handles /v1/upstream/*. The request is forwarded with the
// user's ID token and retried through the gate. A 401 from upstream forces one
// token refresh before it is treated as permission denied.
func (h *GateHandler) HandleUpstream(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		_ = utils.WriteServiceUnavailable(w, "Upstream not configured")
		return
	}

	path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Request body too large or unreadable", nil)
		return
	}

	label := r.Method + " " + strings.SplitN(path, "?", 2)[0]
	opts := append([]authgate.RetryOption{authgate.WithMetricLabel(r.Method + " " + routePattern(r))}, h.retryOpts...)

	forceRefresh := false
	resp, err := authgate.WithAuthRetry(r.Context(), h.gate, label, func(ctx context.Context) (*upstream.Response, error) {
		token, err := h.gate.IDToken(ctx, forceRefresh)
		if err != nil {
			return nil, err
		}
		resp, err := h.upstream.Do(ctx, r.Method, path, body, token)
		if errors.Is(err, upstream.ErrTokenRejected) {
			if forceRefresh {
				return nil, fmt.Errorf("%w: %w", authgate.ErrPermissionDenied, err)
			}
			forceRefresh = true
		}
		return resp, err
	}, opts...)
	if err != nil {
		HandleGateError(w, err, h.logger)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Error("failed to write upstream response", zap.Error(err))
	}
}

// HandleSignOut handles POST /v1/signout
func (h *GateHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut()
	utils.WriteNoContent(w)
}

// routePattern returns the matched chi pattern, which stays bounded no matter
// which path the client sends
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "/v1/upstream/*"
}

func toPrincipalResponse(p authgate.Principal) PrincipalResponse {
	resp := PrincipalResponse{
		UID:   p.UID(),
		Email: p.Email(),
	}
	if u, ok := p.(interface{ Username() string }); ok {
		resp.Username = u.Username()
	}
	if g, ok := p.(interface{ Groups() []string }); ok {
		resp.Groups = g.Groups()
	}
	return resp
}
