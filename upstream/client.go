// Package upstream calls the downstream data API on behalf of the signed-in
// user. Status codes are mapped onto the authgate error kinds so that
// WithAuthRetry only retries what can succeed on a second try.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/authgate/authgate"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in StatusError
const maxErrorBody = 4 << 10

// ErrTokenRejected is returned for a 401. It stays retryable so the caller can
// mint a fresh ID token and try again.
var ErrTokenRejected = errors.New("upstream rejected the bearer token")

// Config holds upstream client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// Response is a successful upstream answer
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is a non-2xx answer that does not map to a terminal error kind
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: upstream returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: upstream returned %d", e.Method, e.Path, e.StatusCode)
}

// Client sends bearer-authenticated requests to the upstream API
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new upstream client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Do sends method path with body and the bearer token. 401 maps to
// ErrTokenRejected, 403 to authgate.ErrPermissionDenied, 404 to
// authgate.ErrNotFound and 409 to authgate.ErrAlreadyExists. Any other non-2xx
// status is a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, token string) (*Response, error) {
	if c.config.BaseURL == "" {
		return nil, fmt.Errorf("upstream not configured")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: upstream request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read upstream response: %w", method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}, nil
	}

	return nil, statusError(method, path, resp.StatusCode, respBody)
}

func statusError(method, path string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, ErrTokenRejected)
	case http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, authgate.ErrPermissionDenied)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, authgate.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, authgate.ErrAlreadyExists)
	}

	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}
}
