package cognito

import (
	"context"
	"slices"

	"github.com/upb/authgate/authgate"
)

// User is a signed-in Cognito user
type User struct {
	session *Session
	claims  *ParsedClaims
}

var _ authgate.Principal = (*User)(nil)

// UID returns the Cognito sub
func (u *User) UID() string {
	return u.claims.Sub.String()
}

// Email returns the user's email address
func (u *User) Email() string {
	return u.claims.Email
}

// Username returns the Cognito username
func (u *User) Username() string {
	return u.claims.Username
}

// Groups returns the user's Cognito groups
func (u *User) Groups() []string {
	return slices.Clone(u.claims.Groups)
}

// Claims returns a copy of the validated ID token claims
func (u *User) Claims() ParsedClaims {
	c := *u.claims
	c.Groups = slices.Clone(c.Groups)
	return c
}

// IDToken returns a valid ID token, refreshing it when forceRefresh is set or
// the cached one is about to expire. It fails with ErrSignedOut once the user
// is no longer signed in.
func (u *User) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	return u.session.token(ctx, u, forceRefresh)
}
