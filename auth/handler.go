package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/authgate/config"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName   = "oauth_state"
	stateCookieMaxAge = 600
)

// SessionControl signs the sidecar session in and out.
type SessionControl interface {
	SignInWithCode(ctx context.Context, code, redirectURI string) error
	SignOut()
}

// Handler handles the Cognito hosted UI flow (login, callback, logout) that
// signs the sidecar session in interactively.
type Handler struct {
	cfg     config.CognitoConfig
	session SessionControl
	logger  *zap.Logger
}

// NewHandler creates a new auth handler for the given session.
func NewHandler(cfg config.CognitoConfig, session SessionControl, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:     cfg,
		session: session,
		logger:  logger.Named("auth"),
	}
}

// HandleLogin redirects to Cognito hosted UI for OAuth2 authorization
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Domain == "" || h.cfg.ClientID == "" {
		h.logger.Error("cognito not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.SetCookie(w, h.stateCookie(state, stateCookieMaxAge))

	authURL := buildAuthURL(h.cfg.Domain, h.cfg.ClientID, h.cfg.RedirectURI, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback checks the state cookie and signs the session in with the
// authorization code
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}

	http.SetCookie(w, h.stateCookie("", -1))

	if err := h.session.SignInWithCode(r.Context(), code, h.cfg.RedirectURI); err != nil {
		h.logger.Warn("hosted ui sign in failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	if h.cfg.PostLoginURL != "" {
		http.Redirect(w, r, h.cfg.PostLoginURL, http.StatusFound)
		return
	}
	_ = utils.WriteOK(w, map[string]string{"status": "signed_in"})
}

// HandleLogout handles POST /auth/logout. It signs the session out and
// redirects to Cognito logout. Requests a browser marks as cross-site are
// refused.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		h.logger.Warn("rejected cross-site logout", zap.String("origin", r.Header.Get("Origin")))
		_ = utils.WriteForbidden(w, "Cross-site logout is not allowed")
		return
	}

	h.session.SignOut()

	if h.cfg.Domain == "" {
		utils.WriteNoContent(w)
		return
	}
	logoutURL := buildLogoutURL(h.cfg.Domain, h.cfg.ClientID, h.cfg.RedirectURI)
	http.Redirect(w, r, logoutURL, http.StatusSeeOther)
}

func (h *Handler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	}
}

func buildAuthURL(domain, clientID, redirectURI, state string) string {
	base := strings.TrimSuffix(domain, "/") + "/oauth2/authorize"
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return base + "?" + params.Encode()
}

func buildLogoutURL(domain, clientID, redirectURI string) string {
	parsed, err := url.Parse(redirectURI)
	logoutURI := redirectURI
	if err == nil {
		logoutURI = parsed.Scheme + "://" + parsed.Host
	}
	base := strings.TrimSuffix(domain, "/") + "/logout"
	params := url.Values{
		"client_id":  {clientID},
		"logout_uri": {logoutURI},
	}
	return base + "?" + params.Encode()
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
