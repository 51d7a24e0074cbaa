package auth

import "context"

// Provider is the client-scoped auth service contract the session
// controller depends on. One Provider instance serves one presentation
// client (process/tab); CurrentSession and the change listeners cover only
// that client's login.
//
// Error Contract: operations fail with coded domain errors
// (invalid_credentials, credential_error, auth_service_error); CurrentSession
// returns (nil, nil) when no session exists.
type Provider interface {
	// CurrentSession returns the client's current session, if any.
	CurrentSession(ctx context.Context) (*Session, error)

	// OnSessionChange registers fn for every session set/clear, including
	// ones caused by link callbacks or remote invalidation. fn receives nil
	// when the session is cleared. The returned func unregisters.
	OnSessionChange(fn func(*Session)) (unregister func())

	// SignInWithPassword authenticates the email/password pair and makes
	// the resulting session current.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInWithLink dispatches a passwordless login link scoped to the
	// redirect target. No session is created until the link is completed.
	SignInWithLink(ctx context.Context, email, redirectTarget string) (*LinkConfirmation, error)

	// RegisterPassword establishes password credentials for the account and
	// makes the resulting session current.
	RegisterPassword(ctx context.Context, email, password string) (*Session, error)

	// InvalidateSession revokes the current session server-side and clears
	// it locally.
	InvalidateSession(ctx context.Context) error
}
