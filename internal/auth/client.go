package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ClientProvider is the per-client Provider implementation over a shared
// Directory. Each presentation-layer client (tab, websocket connection)
// gets its own instance; the current session and change listeners are
// scoped to it.
type ClientProvider struct {
	dir         *Directory
	deviceLabel string

	mu        sync.Mutex
	current   *Session
	listeners map[uint64]func(*Session)
	nextKey   uint64
}

// ClientOption configures a ClientProvider.
type ClientOption func(*ClientProvider)

// WithDeviceLabel records the client's device label on issued sessions.
func WithDeviceLabel(label string) ClientOption {
	return func(c *ClientProvider) {
		c.deviceLabel = label
	}
}

// NewClient constructs a client-scoped provider over the directory.
func NewClient(dir *Directory, opts ...ClientOption) *ClientProvider {
	c := &ClientProvider{
		dir:       dir,
		listeners: make(map[uint64]func(*Session)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentSession returns the client's session, dropping it silently when it
// has expired.
func (c *ClientProvider) CurrentSession(_ context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Expired(c.dir.clock()) {
		c.current = nil
	}
	return c.current, nil
}

// OnSessionChange registers fn for session set/clear notifications.
func (c *ClientProvider) OnSessionChange(fn func(*Session)) func() {
	c.mu.Lock()
	c.nextKey++
	key := c.nextKey
	c.listeners[key] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, key)
		c.mu.Unlock()
	}
}

// SignInWithPassword authenticates and makes the new session current.
func (c *ClientProvider) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	userID, err := c.dir.Authenticate(email, password)
	if err != nil {
		return nil, err
	}
	session, err := c.dir.issueSession(userID, normalize(email), c.deviceLabel)
	if err != nil {
		return nil, err
	}
	c.setSession(session)
	return session, nil
}

// SignInWithLink dispatches a passwordless login link. No session is created.
func (c *ClientProvider) SignInWithLink(_ context.Context, email, redirectTarget string) (*LinkConfirmation, error) {
	return c.dir.IssueLink(email, redirectTarget)
}

// RegisterPassword establishes credentials and makes the new session current.
// When the client already holds a session for this email, its subject is
// forwarded as ownership proof so an existing account's password can change.
func (c *ClientProvider) RegisterPassword(_ context.Context, email, password string) (*Session, error) {
	subject := uuid.Nil
	c.mu.Lock()
	if c.current != nil && !c.current.Expired(c.dir.clock()) && c.current.Email == normalize(email) {
		subject = c.current.UserID
	}
	c.mu.Unlock()

	userID, err := c.dir.SetPassword(email, password, subject)
	if err != nil {
		return nil, err
	}
	session, err := c.dir.issueSession(userID, normalize(email), c.deviceLabel)
	if err != nil {
		return nil, err
	}
	c.setSession(session)
	return session, nil
}

// CompleteLink consumes a link token, signs this client in, and makes the
// session current. This is the callback destination a passwordless link
// lands on; it is not part of the controller-facing Provider contract.
func (c *ClientProvider) CompleteLink(_ context.Context, token string) (*Session, error) {
	userID, email, err := c.dir.ResolveLink(token)
	if err != nil {
		return nil, err
	}
	session, err := c.dir.issueSession(userID, email, c.deviceLabel)
	if err != nil {
		return nil, err
	}
	c.setSession(session)
	return session, nil
}

// InvalidateSession clears the current session and notifies listeners.
func (c *ClientProvider) InvalidateSession(_ context.Context) error {
	c.setSession(nil)
	return nil
}

// setSession swaps the current session and notifies listeners. Listener
// callbacks run with no provider lock held so they may call back in.
func (c *ClientProvider) setSession(s *Session) {
	c.mu.Lock()
	c.current = s
	targets := make([]func(*Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		targets = append(targets, fn)
	}
	c.mu.Unlock()

	for _, fn := range targets {
		fn(s)
	}
}

var _ Provider = (*ClientProvider)(nil)
