package app

import (
	"context"
	"fmt"

	"github.com/upb/authgate/auth"
	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/config"
	"github.com/upb/authgate/internal/observability"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/upstream"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Auth
	Validator      *cognito.Validator
	TokenClient    *cognito.TokenClient
	Session        *cognito.Session
	Gate           *authgate.Gate
	AuthMiddleware *middleware.AuthMiddleware
	authHandler    *auth.Handler

	// Upstream is nil when no data API is configured
	Upstream *upstream.Client
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
// A configured refresh token is redeemed before returning so the gate starts
// with a resolved session.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initUpstream(cfg)
	deps.restoreSession(ctx, cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initAuth builds the Cognito session and the gate that observes it
func (d *Dependencies) initAuth(cfg *config.Config) error {
	d.Validator = cognito.NewValidator(cognito.Config{
		Region:      cfg.Cognito.Region,
		UserPoolID:  cfg.Cognito.UserPoolID,
		ClientID:    cfg.Cognito.ClientID,
		CacheTTL:    cfg.Cognito.JWKSCacheTTL,
		HTTPTimeout: cfg.Cognito.HTTPTimeout,
		Issuer:      cfg.Cognito.Issuer,
	})
	d.TokenClient = cognito.NewTokenClient(cognito.TokenClientConfig{
		Domain:       cfg.Cognito.Domain,
		ClientID:     cfg.Cognito.ClientID,
		ClientSecret: cfg.Cognito.ClientSecret,
		HTTPTimeout:  cfg.Cognito.HTTPTimeout,
	})
	d.Session = cognito.NewSession(d.TokenClient, d.Validator, d.Logger,
		cognito.WithExpirySkew(cfg.Cognito.ExpirySkew),
		cognito.WithRefreshTimeout(cfg.Cognito.HTTPTimeout),
		cognito.WithRefreshRecorder(d.Metrics),
	)

	gate, err := authgate.New(d.Session, authgate.Config{
		WaitTimeout: cfg.Gate.WaitTimeout,
		Retry: authgate.RetryPolicy{
			MaxRetries: cfg.Gate.MaxRetries,
			BaseDelay:  cfg.Gate.BaseDelay,
			MaxDelay:   cfg.Gate.MaxDelay,
		},
	}, d.Logger, authgate.WithRecorder(d.Metrics))
	if err != nil {
		return err
	}
	d.Gate = gate
	d.AuthMiddleware = middleware.NewAuthMiddleware(gate, d.Logger)

	if cfg.Cognito.Domain == "" || cfg.Cognito.ClientID == "" {
		d.Logger.Warn("cognito hosted ui not configured, /auth endpoints disabled")
		return nil
	}
	d.authHandler = auth.NewHandler(cfg.Cognito, d.Session, d.Logger)
	d.Logger.Info("auth handler initialized")
	return nil
}

// initUpstream creates the data API client when a base URL is set
func (d *Dependencies) initUpstream(cfg *config.Config) {
	if cfg.Upstream.BaseURL == "" {
		d.Logger.Warn("upstream not configured, /v1/upstream disabled")
		return
	}
	d.Upstream = upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
	})
	d.Logger.Info("upstream client initialized", zap.String("base_url", cfg.Upstream.BaseURL))
}

// restoreSession resolves the session from the configured refresh token, or
// as signed out when there is none. A failed restore leaves the sidecar
// running so the user can sign in through the hosted UI.
func (d *Dependencies) restoreSession(ctx context.Context, cfg *config.Config) {
	if cfg.Cognito.RefreshToken == "" {
		d.Session.MarkResolved()
		d.Logger.Info("no refresh token configured, waiting for sign in")
		return
	}

	if err := d.Session.Restore(ctx, cfg.Cognito.RefreshToken); err != nil {
		d.Logger.Warn("failed to restore session", zap.Error(err))
		return
	}
	if u := d.Session.CurrentUser(); u != nil {
		d.Logger.Info("session restored", zap.String("uid", u.UID()))
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.Session != nil {
		d.Session.SignOut()
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
