package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionRevoked is returned when Cognito rejects the refresh token
var ErrSessionRevoked = errors.New("session revoked")

// TokenResponse represents the OAuth2 token endpoint response from Cognito
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// OAuthError is a non-200 answer from the token endpoint
type OAuthError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint: status %d: %s", e.StatusCode, e.Code)
}

// Is implements errors.Is
func (e *OAuthError) Is(target error) bool {
	return target == ErrSessionRevoked && e.Code == "invalid_grant"
}

// TokenClientConfig holds the app client settings for the token endpoint
type TokenClientConfig struct {
	Domain       string // e.g. https://my-app.auth.us-east-1.amazoncognito.com
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// TokenClient calls the Cognito OAuth2 token endpoint
type TokenClient struct {
	cfg        TokenClientConfig
	httpClient *http.Client
}

// NewTokenClient creates a new token endpoint client
func NewTokenClient(cfg TokenClientConfig) *TokenClient {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &TokenClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}
}

// ExchangeCode exchanges an authorization code for tokens
func (c *TokenClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	return c.post(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	})
}

// Refresh trades a refresh token for fresh ID and access tokens. Cognito does
// not rotate refresh tokens, so RefreshToken is usually empty in the response.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.post(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *TokenClient) post(ctx context.Context, data url.Values) (*TokenResponse, error) {
	if c.cfg.Domain == "" || c.cfg.ClientID == "" {
		return nil, fmt.Errorf("cognito not configured")
	}

	tokenURL := strings.TrimSuffix(c.cfg.Domain, "/") + "/oauth2/token"
	data.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		oauthErr := &OAuthError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, oauthErr); err != nil || oauthErr.Code == "" {
			oauthErr.Code = http.StatusText(resp.StatusCode)
		}
		return nil, oauthErr
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	if tokenResp.IDToken == "" {
		return nil, fmt.Errorf("no id_token in response")
	}

	return &tokenResp, nil
}
