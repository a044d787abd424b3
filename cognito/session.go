package cognito

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/authgate/authgate"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrSignedOut is returned when a token is requested for a user that is no
// longer the session's current user
var ErrSignedOut = errors.New("user is signed out")

// Token refresh outcomes reported to the RefreshRecorder.
const (
	RefreshOutcomeSuccess = "success"
	RefreshOutcomeRevoked = "revoked"
	RefreshOutcomeError   = "error"
)

// TokenSource obtains tokens from the Cognito token endpoint
type TokenSource interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// TokenValidator validates JWT tokens and returns parsed claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*ParsedClaims, error)
}

// RefreshRecorder receives token refresh outcomes
type RefreshRecorder interface {
	RecordTokenRefresh(outcome string)
}

// SessionOption customizes a Session
type SessionOption func(*Session)

// WithExpirySkew refreshes cached ID tokens this long before they expire
func WithExpirySkew(d time.Duration) SessionOption {
	return func(s *Session) {
		s.expirySkew = d
	}
}

// WithRefreshTimeout bounds a shared token refresh. The refresh runs detached
// from the requesting caller so one canceled request does not fail the others.
func WithRefreshTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithRefreshRecorder sets the refresh metrics recorder
func WithRefreshRecorder(r RefreshRecorder) SessionOption {
	return func(s *Session) {
		s.recorder = r
	}
}

// Session holds the signed-in Cognito user and implements authgate.Provider.
// It starts unresolved: listeners registered before Restore, SignInWithCode,
// SignOut or MarkResolved are only called once the state is known.
type Session struct {
	tokens         TokenSource
	validator      TokenValidator
	logger         *zap.Logger
	recorder       RefreshRecorder
	expirySkew     time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	mu           sync.RWMutex
	resolved     bool
	user         *User
	idToken      string
	accessToken  string
	refreshToken string
	listeners    map[uint64]authgate.StateListener
	nextID       uint64

	// generation changes on every sign in and sign out. Token responses
	// requested under an older generation are discarded.
	generation uint64

	refreshes singleflight.Group
}

var _ authgate.Provider = (*Session)(nil)

// NewSession creates an unresolved session
func NewSession(tokens TokenSource, validator TokenValidator, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		tokens:         tokens,
		validator:      validator,
		logger:         logger.Named("cognito"),
		expirySkew:     5 * time.Minute,
		refreshTimeout: 30 * time.Second,
		now:            time.Now,
		listeners:      make(map[uint64]authgate.StateListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentUser returns the signed-in user, or nil
func (s *Session) CurrentUser() authgate.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	return s.user
}

// Resolved reports whether the initial auth state is known
func (s *Session) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// Subscribe registers listener for auth state changes. When the state is
// already resolved the listener is called with it before Subscribe returns.
func (s *Session) Subscribe(listener authgate.StateListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	resolved := s.resolved
	current := s.principal()
	s.mu.Unlock()

	if resolved {
		listener(current, nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Restore signs in from a stored refresh token. A failure resolves the
// session as signed out and is reported to listeners.
func (s *Session) Restore(ctx context.Context, refreshToken string) error {
	gen := s.beginSignIn()
	resp, err := s.tokens.Refresh(ctx, refreshToken)
	if err == nil {
		err = s.apply(ctx, resp, refreshToken, gen)
	}
	if err != nil {
		s.logger.Error("failed to restore session", zap.Error(err))
		s.mu.Lock()
		stale := s.generation != gen
		if !stale {
			s.resolved = true
			s.clearLocked()
		}
		s.mu.Unlock()
		if !stale {
			s.notify(nil, err)
		}
		return fmt.Errorf("restore session: %w", err)
	}
	return nil
}

// SignInWithCode completes a hosted UI sign in with an authorization code
func (s *Session) SignInWithCode(ctx context.Context, code, redirectURI string) error {
	gen := s.beginSignIn()
	resp, err := s.tokens.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		s.logger.Warn("token exchange failed", zap.Error(err))
		return fmt.Errorf("sign in: %w", err)
	}
	if resp.RefreshToken == "" {
		return fmt.Errorf("sign in: no refresh_token in response")
	}
	if err := s.apply(ctx, resp, resp.RefreshToken, gen); err != nil {
		s.logger.Warn("sign in rejected", zap.Error(err))
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// SignOut drops the tokens and notifies listeners. A refresh or sign in that is
// still in flight will not install its tokens afterwards.
func (s *Session) SignOut() {
	s.signOut(nil)
}

// signOut clears the session. With a non-nil gen it does nothing once the
// session has moved past that generation.
func (s *Session) signOut(gen *uint64) {
	s.mu.Lock()
	if gen != nil && *gen != s.generation {
		s.mu.Unlock()
		return
	}
	hadUser := s.user != nil
	wasResolved := s.resolved
	s.resolved = true
	s.clearLocked()
	s.mu.Unlock()

	if hadUser || !wasResolved {
		s.logger.Info("signed out")
		s.notify(nil, nil)
	}
}

// MarkResolved resolves the initial state without a user, for callers that
// have no stored credentials. It is a no-op once resolved.
func (s *Session) MarkResolved() {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	current := s.principal()
	s.mu.Unlock()

	s.notify(current, nil)
}

// beginSignIn starts a new generation so that refreshes for the previous user
// cannot overwrite the incoming one
func (s *Session) beginSignIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// apply validates resp and installs it as the current user, unless the
// session left generation gen while the tokens were being fetched
func (s *Session) apply(ctx context.Context, resp *TokenResponse, refreshToken string, gen uint64) error {
	claims, err := s.validator.ValidateToken(ctx, resp.IDToken)
	if err != nil {
		return fmt.Errorf("validate id token: %w", err)
	}
	if claims.TokenUse != TokenUseID {
		return fmt.Errorf("%w: expected id token, got %q", ErrInvalidToken, claims.TokenUse)
	}
	if resp.RefreshToken != "" {
		refreshToken = resp.RefreshToken
	}

	user := &User{session: s, claims: claims}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Info("discarding tokens for a session that has ended", zap.String("uid", user.UID()))
		return ErrSignedOut
	}
	previous := s.user
	wasResolved := s.resolved
	s.user = user
	s.idToken = resp.IDToken
	s.accessToken = resp.AccessToken
	s.refreshToken = refreshToken
	s.resolved = true
	s.mu.Unlock()

	if previous == nil || previous.UID() != user.UID() || !wasResolved {
		s.logger.Info("signed in",
			zap.String("uid", user.UID()),
			zap.String("username", claims.Username))
		s.notify(user, nil)
	}
	return nil
}

// token returns u's ID token, refreshing it when forced or close to expiry
func (s *Session) token(ctx context.Context, u *User, forceRefresh bool) (string, error) {
	s.mu.RLock()
	current := s.user
	idToken := s.idToken
	gen := s.generation
	s.mu.RUnlock()

	if current == nil || current.UID() != u.UID() {
		return "", ErrSignedOut
	}
	if !forceRefresh && idToken != "" && !current.claims.ExpiresWithin(s.now(), s.expirySkew) {
		return idToken, nil
	}

	// Concurrent refreshes for the same user share one token endpoint call.
	// Each caller stops waiting when its own ctx is done.
	key := fmt.Sprintf("%s/%d", u.UID(), gen)
	ch := s.refreshes.DoChan(key, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.refresh(refreshCtx, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("refresh id token: %w", ctx.Err())
	}
}

func (s *Session) refresh(ctx context.Context, gen uint64) (string, error) {
	s.mu.RLock()
	refreshToken := s.refreshToken
	current := s.generation == gen
	s.mu.RUnlock()

	if refreshToken == "" || !current {
		return "", ErrSignedOut
	}

	resp, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			s.recordRefresh(RefreshOutcomeRevoked)
			s.logger.Warn("refresh token rejected, signing out", zap.Error(err))
			s.signOut(&gen)
			return "", err
		}
		s.recordRefresh(RefreshOutcomeError)
		s.logger.Error("token refresh failed", zap.Error(err))
		return "", fmt.Errorf("refresh id token: %w", err)
	}

	if err := s.apply(ctx, resp, refreshToken, gen); err != nil {
		if errors.Is(err, ErrSignedOut) {
			return "", err
		}
		s.recordRefresh(RefreshOutcomeError)
		s.logger.Error("refreshed token rejected", zap.Error(err))
		return "", fmt.Errorf("refresh id token: %w", err)
	}

	s.recordRefresh(RefreshOutcomeSuccess)
	s.logger.Debug("id token refreshed")
	return resp.IDToken, nil
}

// AccessToken returns the current access token, or "" when signed out
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) recordRefresh(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordTokenRefresh(outcome)
	}
}

// principal returns the current user as a Principal. Callers hold mu.
func (s *Session) principal() authgate.Principal {
	if s.user == nil {
		return nil
	}
	return s.user
}

// clearLocked drops the tokens and ends the current generation. Callers hold mu.
func (s *Session) clearLocked() {
	s.generation++
	s.user = nil
	s.idToken = ""
	s.accessToken = ""
	s.refreshToken = ""
}

// notify calls every listener outside the lock
func (s *Session) notify(p authgate.Principal, err error) {
	s.mu.RLock()
	listeners := make([]authgate.StateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(p, err)
	}
}
