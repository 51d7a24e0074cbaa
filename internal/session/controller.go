package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/metrics"
	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

// AuthProvider is the auth service contract the controller depends on.
// Error Contract: failures carry domain error codes; CurrentSession returns
// (nil, nil) when no session exists.
type AuthProvider interface {
	CurrentSession(ctx context.Context) (*auth.Session, error)
	OnSessionChange(fn func(*auth.Session)) (unregister func())
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignInWithLink(ctx context.Context, email, redirectTarget string) (*auth.LinkConfirmation, error)
	RegisterPassword(ctx context.Context, email, password string) (*auth.Session, error)
	InvalidateSession(ctx context.Context) error
}

// ProfileStore is the profile persistence contract the controller depends on.
// Error Contract: all Find methods return profile.ErrNotFound (wrapped) when
// the row doesn't exist.
type ProfileStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*profile.Profile, error)
	FindByEmail(ctx context.Context, email string) (*profile.Profile, error)
	Upsert(ctx context.Context, id uuid.UUID, fields profile.Fields) (*profile.Profile, error)
	Update(ctx context.Context, id uuid.UUID, fields profile.Fields) (*profile.Profile, error)
	Subscribe(id uuid.UUID, fn func(profile.ChangeEvent)) (*profile.Subscription, error)
	Unsubscribe(sub *profile.Subscription)
}

// State is the controller's lifecycle state.
type State string

const (
	StateInitializing    State = "initializing"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

// Snapshot is the read surface the presentation layer consumes. Values are
// copies; observers never mutate controller state.
type Snapshot struct {
	State         State            `json:"state"`
	Loading       bool             `json:"loading"`
	Session       *auth.Session    `json:"session,omitempty"`
	Profile       *profile.Profile `json:"profile,omitempty"`
	ProfileLoaded bool             `json:"profile_loaded"`
}

const defaultSignupRedirect = "/signup/complete"

// Controller owns the current authenticated identity, the associated
// profile record, and the live subscription that keeps the profile in sync
// with server-side changes. One instance serves one presentation client.
//
// Every auth or store call is a suspend point: the lock is released around
// it and a generation counter, bumped on every session transition, decides
// whether the completion may still apply. Stale completions are dropped,
// never merged.
type Controller struct {
	provider       AuthProvider
	profiles       ProfileStore
	signupRedirect string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         Tracer

	mu            sync.Mutex
	state         State
	loading       bool
	session       *auth.Session
	profile       *profile.Profile
	profileLoaded bool
	gen           uint64
	sub           *profile.Subscription
	unregister    func()
	initialized   bool
	closed        bool
	watchers      map[uint64]chan Snapshot
	nextWatch     uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithTracer enables operation spans.
func WithTracer(t Tracer) Option {
	return func(c *Controller) {
		c.tracer = t
	}
}

// WithSignupRedirect overrides the callback destination embedded in
// passwordless sign-up links.
func WithSignupRedirect(target string) Option {
	return func(c *Controller) {
		if target != "" {
			c.signupRedirect = target
		}
	}
}

// New constructs a Controller. The controller performs no I/O until
// Initialize is called.
func New(provider AuthProvider, profiles ProfileStore, opts ...Option) (*Controller, error) {
	if provider == nil || profiles == nil {
		return nil, fmt.Errorf("provider and profiles are required")
	}
	c := &Controller{
		provider:       provider,
		profiles:       profiles,
		signupRedirect: defaultSignupRedirect,
		logger:         slog.Default(),
		state:          StateInitializing,
		loading:        true,
		watchers:       make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.AddActiveControllers(1)
	return c, nil
}

// Initialize registers the long-lived session-change listener and performs
// the one-time startup check for a persisted session. It resolves the
// Initializing state before returning.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return fmt.Errorf("controller already initialized")
	}
	c.initialized = true
	c.mu.Unlock()

	unregister := c.provider.OnSessionChange(c.handleSessionChange)
	c.mu.Lock()
	c.unregister = unregister
	c.mu.Unlock()

	sess, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateUnauthenticated
		c.loading = false
		c.notifyLocked()
		c.mu.Unlock()
		return dErrors.Wrap(err, dErrors.CodeAuthService, "failed to restore session")
	}

	if sess != nil {
		c.adoptSession(ctx, sess, true)
	}

	c.mu.Lock()
	if c.state == StateInitializing {
		c.state = StateUnauthenticated
	}
	c.loading = false
	c.notifyLocked()
	c.mu.Unlock()
	return nil
}

// Close tears the controller down: listener unregistered, subscription
// dropped, watchers closed. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unregister := c.unregister
	c.unregister = nil
	c.gen++
	c.teardownSubscriptionLocked()
	c.session = nil
	c.profile = nil
	c.profileLoaded = false
	c.state = StateUnauthenticated
	c.loading = false
	for key, ch := range c.watchers {
		delete(c.watchers, key)
		close(ch)
	}
	c.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	c.metrics.AddActiveControllers(-1)
}

// Snapshot returns a point-in-time copy of the controller's state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch registers an observer. The channel is seeded with the current
// snapshot and receives one per state change; slow observers keep only the
// latest value. Closed when the controller closes. Watching a closed
// controller returns an already-closed channel rather than registering one
// that nothing will ever close.
func (c *Controller) Watch() <-chan Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Snapshot, 8)
	if c.closed {
		close(ch)
		return ch
	}
	c.nextWatch++
	c.watchers[c.nextWatch] = ch
	ch <- c.snapshotLocked()
	return ch
}

// Unwatch removes an observer registered with Watch and closes its channel.
func (c *Controller) Unwatch(ch <-chan Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, w := range c.watchers {
		if (<-chan Snapshot)(w) == ch {
			delete(c.watchers, key)
			close(w)
			return
		}
	}
}

// SignUp checks that no account exists for the email, then asks the auth
// service to dispatch a passwordless login link scoped to the sign-up
// completion destination. No session or profile is created here.
func (c *Controller) SignUp(ctx context.Context, email string) (*auth.LinkConfirmation, error) {
	ctx, end := c.startSpan(ctx, "session.SignUp")
	conf, err := c.signUp(ctx, email)
	end(err)
	return conf, err
}

func (c *Controller) signUp(ctx context.Context, email string) (*auth.LinkConfirmation, error) {
	// The directory keys accounts by the normalized form; the duplicate
	// check must look up the same form or mixed-case input slips past it.
	email = auth.NormalizeEmail(email)
	existing, err := c.profiles.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing account")
	}
	if existing != nil {
		c.logFailure(ctx, "duplicate_account", "email", email)
		return nil, dErrors.New(dErrors.CodeDuplicateAccount, "an account already exists for this email")
	}

	conf, err := c.provider.SignInWithLink(ctx, email, c.signupRedirect)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthService, "failed to dispatch sign-up link")
	}
	c.metrics.IncrementSignUpLinks()
	c.logAudit(ctx, "signup_link_sent", "email", email)
	return conf, nil
}

// CompleteSignUp registers password credentials for the account, then
// upserts the profile row keyed by the resulting subject id. Upsert makes
// the operation idempotent: repeating it overwrites the supplied fields.
// The caller arrives here via a verified passwordless link; a password-less
// session may or may not already exist.
func (c *Controller) CompleteSignUp(ctx context.Context, email, password string, category profile.Category, bio string) (*profile.Profile, error) {
	ctx, end := c.startSpan(ctx, "session.CompleteSignUp")
	row, err := c.completeSignUp(ctx, email, password, category, bio)
	end(err)
	return row, err
}

func (c *Controller) completeSignUp(ctx context.Context, email, password string, category profile.Category, bio string) (*profile.Profile, error) {
	if !category.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "category must be creator or collector")
	}

	sess, err := c.provider.RegisterPassword(ctx, email, password)
	if err != nil {
		c.metrics.IncrementAuthFailures()
		return nil, dErrors.Wrap(err, dErrors.CodeCredentialError, "failed to register credentials")
	}

	myGen := c.adoptSession(ctx, sess, false)

	passwordSet := true
	row, err := c.profiles.Upsert(ctx, sess.UserID, profile.Fields{
		Email:       &sess.Email,
		Bio:         &bio,
		Category:    &category,
		PasswordSet: &passwordSet,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProfilePersist, "failed to persist profile")
	}
	c.applyProfile(ctx, myGen, row)
	c.metrics.IncrementProfileWrites()
	c.logAudit(ctx, "signup_completed",
		"user_id", sess.UserID.String(),
		"category", string(category),
	)
	return row, nil
}

// SignIn performs password authentication, adopts the resulting session,
// and loads the subject's profile. A session without a profile row is an
// inconsistent account and surfaces as profile_not_found, not as a generic
// failure.
func (c *Controller) SignIn(ctx context.Context, email, password string) (*profile.Profile, error) {
	ctx, end := c.startSpan(ctx, "session.SignIn")
	row, err := c.signIn(ctx, email, password)
	end(err)
	return row, err
}

func (c *Controller) signIn(ctx context.Context, email, password string) (*profile.Profile, error) {
	sess, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.metrics.IncrementAuthFailures()
		c.logFailure(ctx, "sign_in_rejected", "email", email, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeAuthService, "sign-in failed")
	}

	myGen := c.adoptSession(ctx, sess, false)

	row, err := c.profiles.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			c.logFailure(ctx, "profile_missing_after_sign_in", "user_id", sess.UserID.String())
			return nil, dErrors.New(dErrors.CodeProfileNotFound, "account has no profile")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	c.applyProfile(ctx, myGen, row)
	c.metrics.IncrementSignIns()
	c.logAudit(ctx, "signed_in", "user_id", sess.UserID.String())
	return row, nil
}

// SignOut clears local state immediately, then asks the auth service to
// invalidate the session server-side. A remote failure is returned but
// never rolls the optimistic clear back.
func (c *Controller) SignOut(ctx context.Context) error {
	ctx, end := c.startSpan(ctx, "session.SignOut")
	err := c.signOut(ctx)
	end(err)
	return err
}

func (c *Controller) signOut(ctx context.Context) error {
	c.mu.Lock()
	hadSession := c.session != nil
	var userID string
	if hadSession {
		userID = c.session.UserID.String()
	}
	c.gen++
	c.teardownSubscriptionLocked()
	c.session = nil
	c.profile = nil
	c.profileLoaded = false
	c.state = StateUnauthenticated
	c.loading = false
	c.notifyLocked()
	c.mu.Unlock()

	if hadSession {
		c.metrics.IncrementSignOuts()
		c.logAudit(ctx, "signed_out", "user_id", userID)
	}

	if err := c.provider.InvalidateSession(ctx); err != nil {
		c.logFailure(ctx, "remote_sign_out_failed", "error", err)
		return dErrors.Wrap(err, dErrors.CodeAuthService, "remote sign-out failed")
	}
	return nil
}

// UpdateProfile issues a partial update scoped to the current session's
// subject id and replaces the in-memory profile with the server-confirmed
// row, not the locally supplied fields.
func (c *Controller) UpdateProfile(ctx context.Context, fields profile.Fields) (*profile.Profile, error) {
	ctx, end := c.startSpan(ctx, "session.UpdateProfile")
	row, err := c.updateProfile(ctx, fields)
	end(err)
	return row, err
}

func (c *Controller) updateProfile(ctx context.Context, fields profile.Fields) (*profile.Profile, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeNotAuthenticated, "no active session")
	}
	subject := c.session.UserID
	myGen := c.gen
	c.mu.Unlock()

	row, err := c.profiles.Update(ctx, subject, fields)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProfilePersist, "failed to update profile")
	}
	c.applyProfile(ctx, myGen, row)
	c.metrics.IncrementProfileWrites()
	c.logAudit(ctx, "profile_updated", "user_id", subject.String())
	return row, nil
}

// handleSessionChange is the long-lived auth listener. It covers external
// sign-ins and sign-outs (another tab, a link callback, remote revocation)
// in addition to this controller's own operations.
func (c *Controller) handleSessionChange(sess *auth.Session) {
	if sess == nil {
		c.clearSession("session_cleared")
		return
	}
	c.adoptSession(context.Background(), sess, true)
}

// adoptSession makes sess the authoritative session: generation bump,
// subscription swap, and optionally a profile fetch guarded against
// supersession. Re-adopting the current session is a no-op so the listener
// and an operation observing the same sign-in don't race each other.
//
// It returns the generation it adopted under, read in the same critical
// section as the bump. Callers must pass THAT value to applyProfile; a
// separate generation read would admit rows fetched for a session that a
// competing adoption has already replaced. Zero means the controller is
// closed; the current generation is returned for a same-session no-op.
func (c *Controller) adoptSession(ctx context.Context, sess *auth.Session, fetchProfile bool) uint64 {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	if c.session != nil && c.session.ID == sess.ID {
		gen := c.gen
		c.mu.Unlock()
		return gen
	}
	c.gen++
	myGen := c.gen
	c.session = sess
	c.profile = nil
	c.profileLoaded = false
	c.state = StateAuthenticated
	c.resubscribeLocked(sess.UserID)
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Debug("session adopted",
		"session_id", sess.ID.String(),
		"user_id", sess.UserID.String(),
	)

	if !fetchProfile {
		return myGen
	}
	row, err := c.profiles.FindByID(ctx, sess.UserID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != myGen {
		c.metrics.IncrementStaleResults()
		c.logger.Debug("stale profile fetch discarded", "user_id", sess.UserID.String())
		return myGen
	}
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			// Mid-signup: a session without a profile row is a valid
			// transient. Stay authenticated with no profile loaded.
			c.logger.Warn("session has no profile row", "user_id", sess.UserID.String())
			return myGen
		}
		c.logger.Error("profile fetch failed", "user_id", sess.UserID.String(), "error", err)
		return myGen
	}
	c.profile = row
	c.profileLoaded = true
	c.notifyLocked()
	return myGen
}

// handleProfileEvent reconciles one change-feed delivery. Updated rows win
// unconditionally (last writer wins); a deleted row invalidates the local
// identity entirely.
func (c *Controller) handleProfileEvent(ev profile.ChangeEvent) {
	c.mu.Lock()
	if c.session == nil || c.session.UserID != ev.Subject {
		c.mu.Unlock()
		c.metrics.IncrementStaleResults()
		return
	}

	switch ev.Kind {
	case profile.EventUpdated:
		if ev.Profile == nil {
			c.mu.Unlock()
			c.logger.Warn("updated event without profile row", "subject_id", ev.Subject.String())
			return
		}
		c.profile = ev.Profile
		c.profileLoaded = true
		c.notifyLocked()
		c.mu.Unlock()
		c.metrics.IncrementProfileFeedEvents("updated")

	case profile.EventDeleted:
		userID := ev.Subject.String()
		c.gen++
		c.teardownSubscriptionLocked()
		c.session = nil
		c.profile = nil
		c.profileLoaded = false
		c.state = StateUnauthenticated
		c.notifyLocked()
		c.mu.Unlock()
		c.metrics.IncrementProfileFeedEvents("deleted")
		c.logAudit(context.Background(), "account_invalidated", "user_id", userID)

	default:
		c.mu.Unlock()
		c.logger.Warn("unknown profile event kind", "kind", string(ev.Kind))
	}
}

// clearSession drops all authenticated state. No-op when already signed out
// so echoes of our own sign-out don't churn watchers.
func (c *Controller) clearSession(reason string) {
	c.mu.Lock()
	if c.session == nil && c.state == StateUnauthenticated {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.teardownSubscriptionLocked()
	c.session = nil
	c.profile = nil
	c.profileLoaded = false
	c.state = StateUnauthenticated
	c.loading = false
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Debug("session cleared", "reason", reason)
}

// resubscribeLocked swaps the live profile subscription to the given
// subject. At most one subscription is ever active; the old one is torn
// down before the new one is registered.
func (c *Controller) resubscribeLocked(subject uuid.UUID) {
	c.teardownSubscriptionLocked()
	sub, err := c.profiles.Subscribe(subject, c.handleProfileEvent)
	if err != nil {
		c.logger.Error("profile subscription failed", "user_id", subject.String(), "error", err)
		return
	}
	c.sub = sub
}

func (c *Controller) teardownSubscriptionLocked() {
	if c.sub != nil {
		c.profiles.Unsubscribe(c.sub)
		c.sub = nil
	}
}

// applyProfile installs a server-confirmed row unless the generation moved
// on (or the controller closed) while the write was in flight.
func (c *Controller) applyProfile(ctx context.Context, myGen uint64, row *profile.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != myGen {
		c.metrics.IncrementStaleResults()
		c.logger.DebugContext(ctx, "stale profile result discarded", "subject_id", row.ID.String())
		return
	}
	c.profile = row
	c.profileLoaded = true
	c.notifyLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Loading:       c.loading,
		ProfileLoaded: c.profileLoaded,
	}
	if c.session != nil {
		cp := *c.session
		snap.Session = &cp
	}
	snap.Profile = c.profile.Clone()
	return snap
}

// notifyLocked fans the current snapshot out to watchers. Sends never
// block: a full watcher buffer drops its oldest value first, so observers
// always converge on the latest state.
func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
