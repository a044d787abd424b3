package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/authgate/utils"
)

// Config represents the complete sidecar configuration
type Config struct {
	Server        ServerConfig
	Cognito       CognitoConfig
	Gate          GateConfig
	Upstream      UpstreamConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string `validate:"required"`
	Port            int    `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// CognitoConfig holds AWS Cognito authentication configuration
type CognitoConfig struct {
	Region       string `validate:"required"`
	UserPoolID   string
	ClientID     string
	ClientSecret string
	Domain       string // Cognito domain (e.g., https://my-app.auth.us-east-1.amazoncognito.com)
	RedirectURI  string // OAuth2 callback URL
	PostLoginURL string // Redirect target after the hosted UI callback, JSON response when empty
	RefreshToken string // Restores the session at startup when set
	Issuer       string // Overrides the user pool issuer (local emulators)
	JWKSCacheTTL time.Duration
	HTTPTimeout  time.Duration
	ExpirySkew   time.Duration `validate:"gte=0"`
}

// GateConfig holds the auth gate wait and retry settings
type GateConfig struct {
	WaitTimeout time.Duration `validate:"gt=0"`
	MaxRetries  int           `validate:"gte=1"`
	BaseDelay   time.Duration `validate:"gte=0"`
	MaxDelay    time.Duration `validate:"gte=0"`
}

// UpstreamConfig holds the downstream data API settings
type UpstreamConfig struct {
	BaseURL string `validate:"omitempty,url"`
	Timeout time.Duration
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json console"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Cognito: CognitoConfig{
			Region:       getEnv("COGNITO_REGION", "us-east-1"),
			UserPoolID:   getEnv("COGNITO_USER_POOL_ID", ""),
			ClientID:     getEnv("COGNITO_CLIENT_ID", ""),
			ClientSecret: getEnv("COGNITO_CLIENT_SECRET", ""),
			Domain:       getEnv("COGNITO_DOMAIN", ""),
			RedirectURI:  getEnv("COGNITO_REDIRECT_URI", "http://127.0.0.1:8787/auth/callback"),
			PostLoginURL: getEnv("COGNITO_POST_LOGIN_URL", ""),
			RefreshToken: getEnv("COGNITO_REFRESH_TOKEN", ""),
			Issuer:       getEnv("COGNITO_ISSUER", ""),
			JWKSCacheTTL: getEnvAsDuration("COGNITO_JWKS_CACHE_TTL", time.Hour),
			HTTPTimeout:  getEnvAsDuration("COGNITO_HTTP_TIMEOUT", 10*time.Second),
			ExpirySkew:   getEnvAsDuration("COGNITO_EXPIRY_SKEW", 5*time.Minute),
		},
		Gate: GateConfig{
			WaitTimeout: getEnvAsDuration("AUTH_WAIT_TIMEOUT", 5*time.Second),
			MaxRetries:  getEnvAsInt("AUTH_MAX_RETRIES", 3),
			BaseDelay:   getEnvAsDuration("AUTH_RETRY_BASE_DELAY", time.Second),
			MaxDelay:    getEnvAsDuration("AUTH_RETRY_MAX_DELAY", 5*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL: getEnv("UPSTREAM_BASE_URL", ""),
			Timeout: getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints, then the settings that depend on each other
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %s", err, formatFields(fields))
		}
		return err
	}

	if c.Gate.MaxDelay < c.Gate.BaseDelay {
		return fmt.Errorf("retry max delay (%s) must not be less than base delay (%s)", c.Gate.MaxDelay, c.Gate.BaseDelay)
	}

	// Cognito validation (required in production)
	if c.IsProduction() {
		if c.Cognito.UserPoolID == "" && c.Cognito.Issuer == "" {
			return fmt.Errorf("cognito user pool ID is required in production")
		}
		if c.Cognito.ClientID == "" {
			return fmt.Errorf("cognito client ID is required in production")
		}
	}

	if c.Cognito.RefreshToken != "" && c.Cognito.Domain == "" {
		return fmt.Errorf("cognito domain is required to restore a session from COGNITO_REFRESH_TOKEN")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func formatFields(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	slices.Sort(msgs)
	return strings.Join(msgs, "; ")
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8787)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8787
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
