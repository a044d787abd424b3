package authgate

import "context"

// Principal is the authenticated identity supplied by an auth provider.
// The gate never mutates it, only observes and forwards it.
type Principal interface {
	// UID returns the stable unique identifier of the user
	UID() string

	// Email returns the user's email address, or "" when the provider has none
	Email() string

	// IDToken returns a bearer credential for downstream services.
	// forceRefresh asks the provider to mint a fresh token.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
}

// StateListener receives auth state notifications. A nil principal with a nil
// error means the provider has definitively resolved to "signed out".
type StateListener func(p Principal, err error)

// Provider is the auth provider the gate observes.
type Provider interface {
	// CurrentUser returns the current principal snapshot, or nil.
	CurrentUser() Principal

	// Subscribe registers a listener for auth state changes. The returned
	// function unsubscribes it and is safe to call more than once.
	Subscribe(listener StateListener) (unsubscribe func())
}
