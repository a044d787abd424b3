package cognito

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Token use values issued by Cognito
const (
	TokenUseID     = "id"
	TokenUseAccess = "access"
)

// Claims represents the Cognito claims carried by ID and access tokens
type Claims struct {
	jwt.RegisteredClaims
	Email           string   `json:"email"`
	EmailVerified   bool     `json:"email_verified"`
	TokenUse        string   `json:"token_use"`
	AuthTime        int64    `json:"auth_time"`
	ClientID        string   `json:"client_id"` // access tokens carry client_id instead of aud
	CognitoUsername string   `json:"cognito:username"`
	Username        string   `json:"username"` // access tokens use username
	Groups          []string `json:"cognito:groups"`
	Role            string   `json:"custom:userRole"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub           uuid.UUID
	Email         string
	EmailVerified bool
	Username      string
	Groups        []string
	Role          string
	TokenUse      string
	AuthTime      time.Time
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// ExtractClaims parses claims from a JWT without verifying it.
// Only use it on tokens that were validated elsewhere.
func ExtractClaims(tokenString string) (*ParsedClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return parseClaims(claims)
}

// parseClaims converts Claims to ParsedClaims
func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	username := claims.CognitoUsername
	if username == "" {
		username = claims.Username
	}

	parsed := &ParsedClaims{
		Sub:           sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Username:      username,
		Groups:        slices.Clone(claims.Groups),
		Role:          claims.Role,
		TokenUse:      claims.TokenUse,
	}

	if claims.AuthTime > 0 {
		parsed.AuthTime = time.Unix(claims.AuthTime, 0)
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}

// InGroup checks if the user belongs to a Cognito group
func (p *ParsedClaims) InGroup(group string) bool {
	return slices.Contains(p.Groups, group)
}

// ExpiresWithin reports whether the token expires before now+window
func (p *ParsedClaims) ExpiresWithin(now time.Time, window time.Duration) bool {
	if p.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(window).Before(p.ExpiresAt)
}
