// Package authgate gates principal-dependent operations behind an
// authentication-ready check and retries transient failures with
// exponential backoff.
package authgate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWaitTimeout bounds how long WaitForAuth observes the provider.
const DefaultWaitTimeout = 5 * time.Second

// Wait outcomes reported to the Recorder.
const (
	WaitOutcomeImmediate = "immediate"
	WaitOutcomeResolved  = "resolved"
	WaitOutcomeSignedOut = "signed_out"
	WaitOutcomeTimeout   = "timeout"
	WaitOutcomeError     = "error"
	WaitOutcomeCanceled  = "canceled"
)

// Recorder receives gate measurements.
type Recorder interface {
	RecordWait(outcome string)
	RecordAttempt(operation, outcome string)
	RecordBackoff(delay time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordWait(string)           {}
func (nopRecorder) RecordAttempt(string, string) {}
func (nopRecorder) RecordBackoff(time.Duration)  {}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds gate settings
type Config struct {
	WaitTimeout time.Duration
	Retry       RetryPolicy
}

// DefaultConfig returns the gate defaults: 5s wait, 3 attempts, 1s..5s backoff.
func DefaultConfig() Config {
	return Config{
		WaitTimeout: DefaultWaitTimeout,
		Retry:       DefaultRetryPolicy(),
	}
}

// Option customizes a Gate
type Option func(*Gate)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithSleeper replaces the backoff sleep, mostly for tests
func WithSleeper(s Sleeper) Option {
	return func(g *Gate) {
		if s != nil {
			g.sleep = s
		}
	}
}

// Gate bridges an asynchronously initialized auth provider with code that
// needs a known principal. It keeps no state between calls.
type Gate struct {
	provider Provider
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	sleep    Sleeper
}

// New creates a Gate over provider
func New(provider Provider, cfg Config, logger *zap.Logger, opts ...Option) (*Gate, error) {
	if provider == nil {
		return nil, errors.New("auth provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	cfg.Retry = cfg.Retry.normalized()

	g := &Gate{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("authgate"),
		recorder: nopRecorder{},
		sleep:    sleepWithContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// authState is a single provider notification
type authState struct {
	principal Principal
	err       error
}

// waiter owns the subscription and timer of one WaitForAuth call.
type waiter struct {
	states      chan authState
	settleOnce  sync.Once
	releaseOnce sync.Once
	timer       *time.Timer
	unsubscribe func()
}

// settle delivers the first event; later ones are dropped.
func (w *waiter) settle(s authState) {
	w.settleOnce.Do(func() {
		w.states <- s
	})
}

// release stops the timer and unsubscribes exactly once.
func (w *waiter) release() {
	w.releaseOnce.Do(func() {
		w.settleOnce.Do(func() {})
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}

// WaitForAuth returns the provider's principal, observing its state stream for
// at most timeout (DefaultWaitTimeout when timeout <= 0). A timeout resolves to
// (nil, nil). A provider-reported error is returned unchanged.
func (g *Gate) WaitForAuth(ctx context.Context, timeout time.Duration) (Principal, error) {
	if p := g.provider.CurrentUser(); p != nil {
		g.recorder.RecordWait(WaitOutcomeImmediate)
		return p, nil
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	w := &waiter{states: make(chan authState, 1)}
	// The listener may fire synchronously inside Subscribe; the buffered
	// channel holds that event until the select below reads it.
	w.unsubscribe = g.provider.Subscribe(func(p Principal, err error) {
		w.settle(authState{principal: p, err: err})
	})
	w.timer = time.NewTimer(timeout)
	defer w.release()

	g.logger.Debug("waiting for auth state", zap.Duration("timeout", timeout))

	select {
	case s := <-w.states:
		w.release()
		if s.err != nil {
			g.recorder.RecordWait(WaitOutcomeError)
			g.logger.Error("auth provider reported an error", zap.Error(s.err))
			return nil, s.err
		}
		if s.principal == nil {
			g.recorder.RecordWait(WaitOutcomeSignedOut)
			g.logger.Debug("auth state resolved without a user")
			return nil, nil
		}
		g.recorder.RecordWait(WaitOutcomeResolved)
		g.logger.Debug("auth state resolved", zap.String("uid", s.principal.UID()))
		return s.principal, nil

	case <-w.timer.C:
		w.release()
		g.recorder.RecordWait(WaitOutcomeTimeout)
		g.logger.Warn("timed out waiting for auth state", zap.Duration("timeout", timeout))
		return nil, nil

	case <-ctx.Done():
		w.release()
		g.recorder.RecordWait(WaitOutcomeCanceled)
		return nil, ctx.Err()
	}
}

// RequireAuth waits for the principal with the configured timeout and returns
// *AuthRequiredError when none is resolved.
func (g *Gate) RequireAuth(ctx context.Context, operationLabel string) (Principal, error) {
	p, err := g.WaitForAuth(ctx, g.cfg.WaitTimeout)
	if err != nil {
		return nil, err
	}
	if p == nil {
		authErr := &AuthRequiredError{Operation: operationLabel}
		g.logger.Warn("authentication required", zap.String("operation", operationLabel))
		return nil, authErr
	}
	return p, nil
}

// IsAuthenticated reports whether the provider currently holds a principal.
// It never waits.
func (g *Gate) IsAuthenticated() bool {
	return g.provider.CurrentUser() != nil
}

// CurrentUser returns the provider's principal snapshot, or nil.
func (g *Gate) CurrentUser() Principal {
	return g.provider.CurrentUser()
}

// IDToken returns a bearer credential for the resolved principal.
func (g *Gate) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p, err := g.RequireAuth(ctx, "getIdToken")
	if err != nil {
		return "", err
	}

	token, err := p.IDToken(ctx, forceRefresh)
	if err != nil {
		g.logger.Error("failed to get id token",
			zap.String("uid", p.UID()),
			zap.Bool("force_refresh", forceRefresh),
			zap.Error(err))
		return "", err
	}
	return token, nil
}
