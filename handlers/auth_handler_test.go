package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgate/auth"
	"github.com/upb/authgate/config"
	"go.uber.org/zap"
)

// MockSessionControl mocks the session sign in and sign out
type MockSessionControl struct {
	mock.Mock
}

func (m *MockSessionControl) SignInWithCode(ctx context.Context, code, redirectURI string) error {
	args := m.Called(ctx, code, redirectURI)
	return args.Error(0)
}

func (m *MockSessionControl) SignOut() {
	m.Called()
}

type authDeps struct {
	handler *auth.Handler
}

func (d authDeps) AuthHandler() *auth.Handler {
	return d.handler
}

func testCognitoConfig() config.CognitoConfig {
	return config.CognitoConfig{
		Domain:      "https://test.auth.us-east-1.amazoncognito.com",
		ClientID:    "test-client-id",
		RedirectURI: "http://localhost:8787/auth/callback",
	}
}

func stateCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.StateCookieName {
			return c
		}
	}
	return nil
}

func TestHandleLogin(t *testing.T) {
	logger := zap.NewNop()
	cfg := testCognitoConfig()

	t.Run("redirects to Cognito with correct URL format", func(t *testing.T) {
		handler := auth.NewHandler(cfg, nil, logger)

		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		rec := httptest.NewRecorder()

		handler.HandleLogin(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		loc := rec.Header().Get("Location")
		require.NotEmpty(t, loc)

		parsed, err := url.Parse(loc)
		require.NoError(t, err)

		assert.Contains(t, parsed.Path, "/oauth2/authorize")
		assert.Equal(t, "test.auth.us-east-1.amazoncognito.com", parsed.Host)
		assert.Equal(t, "code", parsed.Query().Get("response_type"))
		assert.Equal(t, "test-client-id", parsed.Query().Get("client_id"))
		assert.Equal(t, "http://localhost:8787/auth/callback", parsed.Query().Get("redirect_uri"))
		assert.NotEmpty(t, parsed.Query().Get("state"))
		assert.Contains(t, parsed.Query().Get("scope"), "openid")
	})

	t.Run("generates unique state parameter for CSRF protection", func(t *testing.T) {
		handler := auth.NewHandler(cfg, nil, logger)

		states := make(map[string]bool)
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
			rec := httptest.NewRecorder()
			handler.HandleLogin(rec, req)

			loc := rec.Header().Get("Location")
			parsed, _ := url.Parse(loc)
			state := parsed.Query().Get("state")
			assert.False(t, states[state], "state should be unique")
			states[state] = true
		}
	})

	t.Run("sets state cookie for callback verification", func(t *testing.T) {
		handler := auth.NewHandler(cfg, nil, logger)

		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		rec := httptest.NewRecorder()
		handler.HandleLogin(rec, req)

		cookie := stateCookie(rec)
		require.NotNil(t, cookie)
		assert.NotEmpty(t, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.True(t, cookie.Secure || !strings.HasPrefix(cfg.RedirectURI, "https"))
	})

	t.Run("fails when cognito is not configured", func(t *testing.T) {
		handler := auth.NewHandler(config.CognitoConfig{}, nil, logger)

		rec := httptest.NewRecorder()
		handler.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("route wrapper without handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		AuthLoginHandler(authDeps{})(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleCallback(t *testing.T) {
	logger := zap.NewNop()
	cfg := testCognitoConfig()

	callback := func(handler *auth.Handler, query, cookie string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: cookie})
		}
		rec := httptest.NewRecorder()
		AuthCallbackHandler(authDeps{handler: handler})(rec, req)
		return rec
	}

	t.Run("signs the session in and responds with JSON", func(t *testing.T) {
		session := new(MockSessionControl)
		session.On("SignInWithCode", mock.Anything, "auth-code", "http://localhost:8787/auth/callback").Return(nil)

		rec := callback(auth.NewHandler(cfg, session, logger), "code=auth-code&state=state-123", "state-123")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "signed_in")

		cookie := stateCookie(rec)
		require.NotNil(t, cookie, "state cookie should be cleared")
		assert.True(t, cookie.MaxAge < 0)

		session.AssertExpectations(t)
	})

	t.Run("redirects to PostLoginURL when configured", func(t *testing.T) {
		withRedirect := cfg
		withRedirect.PostLoginURL = "http://localhost:5173"

		session := new(MockSessionControl)
		session.On("SignInWithCode", mock.Anything, "auth-code", "http://localhost:8787/auth/callback").Return(nil)

		rec := callback(auth.NewHandler(withRedirect, session, logger), "code=auth-code&state=state-123", "state-123")

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Location"))
		session.AssertExpectations(t)
	})

	t.Run("returns bad request when code is missing", func(t *testing.T) {
		rec := callback(auth.NewHandler(cfg, nil, logger), "state=state-123", "state-123")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns bad request when state is missing", func(t *testing.T) {
		rec := callback(auth.NewHandler(cfg, nil, logger), "code=auth-code", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns bad request when state does not match cookie", func(t *testing.T) {
		rec := callback(auth.NewHandler(cfg, nil, logger), "code=auth-code&state=wrong-state", "correct-state")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns unauthorized when sign in fails", func(t *testing.T) {
		session := new(MockSessionControl)
		session.On("SignInWithCode", mock.Anything, "bad-code", "http://localhost:8787/auth/callback").Return(assert.AnError)

		rec := callback(auth.NewHandler(cfg, session, logger), "code=bad-code&state=state-123", "state-123")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		session.AssertExpectations(t)
	})
}

func TestHandleLogout(t *testing.T) {
	logger := zap.NewNop()

	t.Run("signs out and redirects to Cognito logout", func(t *testing.T) {
		session := new(MockSessionControl)
		session.On("SignOut").Return()

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		rec := httptest.NewRecorder()
		AuthLogoutHandler(authDeps{handler: auth.NewHandler(testCognitoConfig(), session, logger)})(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		parsed, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Contains(t, parsed.Path, "/logout")
		assert.Equal(t, "test.auth.us-east-1.amazoncognito.com", parsed.Host)
		assert.Equal(t, "test-client-id", parsed.Query().Get("client_id"))
		assert.Equal(t, "http://localhost:8787", parsed.Query().Get("logout_uri"))

		session.AssertExpectations(t)
	})

	t.Run("no content without a hosted ui domain", func(t *testing.T) {
		session := new(MockSessionControl)
		session.On("SignOut").Return()

		rec := httptest.NewRecorder()
		auth.NewHandler(config.CognitoConfig{}, session, logger).HandleLogout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		session.AssertExpectations(t)
	})

	t.Run("cross-site requests keep the session", func(t *testing.T) {
		session := new(MockSessionControl)

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		auth.NewHandler(testCognitoConfig(), session, logger).HandleLogout(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		session.AssertNotCalled(t, "SignOut")
	})
}
