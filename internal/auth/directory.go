package auth

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

const (
	defaultSessionTTL = 24 * time.Hour
	defaultLinkTTL    = 15 * time.Minute
	minPasswordLength = 8
)

type account struct {
	userID       uuid.UUID
	email        string
	passwordHash []byte
	passwordSet  bool

	// linkVerifiedAt records the last consumed login link for this
	// account. It is the evidence SetPassword demands before touching an
	// existing account's credentials, and it is cleared on use.
	linkVerifiedAt time.Time
}

type pendingLink struct {
	email          string
	redirectTarget string
	expiresAt      time.Time
}

// Directory is the shared account registry behind every client-scoped
// provider: credentials, pending passwordless links, and access-token
// issuing. An identity can be provisioned by a link before a password
// exists; passwordSet tracks that.
type Directory struct {
	signingKey []byte
	sessionTTL time.Duration
	linkTTL    time.Duration
	clock      func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	accounts map[string]*account
	links    map[string]pendingLink
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithSessionTTL overrides the session lifetime when greater than zero.
func WithSessionTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.sessionTTL = ttl
		}
	}
}

// WithLinkTTL overrides the passwordless link lifetime when greater than zero.
func WithLinkTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.linkTTL = ttl
		}
	}
}

// WithClock overrides the time source. Test seam.
func WithClock(clock func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory constructs a Directory signing access tokens with key.
func NewDirectory(signingKey string, opts ...DirectoryOption) *Directory {
	d := &Directory{
		signingKey: []byte(signingKey),
		sessionTTL: defaultSessionTTL,
		linkTTL:    defaultLinkTTL,
		clock:      time.Now,
		logger:     slog.Default(),
		accounts:   make(map[string]*account),
		links:      make(map[string]pendingLink),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Authenticate verifies an email/password pair and returns the subject id.
func (d *Directory) Authenticate(email, password string) (uuid.UUID, error) {
	d.mu.Lock()
	acct, ok := d.accounts[normalize(email)]
	d.mu.Unlock()

	if !ok || !acct.passwordSet {
		// Run a dummy compare so unknown emails cost the same as bad
		// passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000u"), []byte(password))
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidCredentials, "unknown email or wrong password")
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidCredentials, "unknown email or wrong password")
	}
	return acct.userID, nil
}

// SetPassword establishes password credentials for the account, creating it
// when it does not exist yet. Weak passwords are rejected with a
// credential_error.
//
// Touching an EXISTING account requires proof of ownership: either subject
// is that account's id (the caller holds a session for it), or the account
// consumed a login link within the link TTL. Without either, the call is
// rejected so an unauthenticated caller cannot take an account over by
// replaying sign-up completion for someone else's email.
func (d *Directory) SetPassword(email, password string, subject uuid.UUID) (uuid.UUID, error) {
	if len(password) < minPasswordLength {
		return uuid.Nil, dErrors.New(dErrors.CodeCredentialError, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeCredentialError, "password rejected")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize(email)
	acct, ok := d.accounts[key]
	if ok && subject != acct.userID && !d.linkVerifiedLocked(acct) {
		d.logger.Warn("password change rejected for unproven caller", "email", key)
		return uuid.Nil, dErrors.New(dErrors.CodeNotAuthenticated, "account exists; sign in or use a login link first")
	}
	if !ok {
		acct = &account{userID: uuid.New(), email: key}
		d.accounts[key] = acct
	}
	acct.passwordHash = hash
	acct.passwordSet = true
	acct.linkVerifiedAt = time.Time{} // evidence is single-use
	return acct.userID, nil
}

// linkVerifiedLocked reports whether the account consumed a login link
// within the link TTL. Caller holds d.mu.
func (d *Directory) linkVerifiedLocked(acct *account) bool {
	return !acct.linkVerifiedAt.IsZero() &&
		!d.clock().After(acct.linkVerifiedAt.Add(d.linkTTL))
}

// IssueLink records a pending passwordless link and returns the opaque
// confirmation. Dispatching the email is outside this layer; the token in
// the confirmation is what the link callback presents.
func (d *Directory) IssueLink(email, redirectTarget string) (*LinkConfirmation, error) {
	token := "link_" + uuid.New().String()
	expires := d.clock().Add(d.linkTTL)

	d.mu.Lock()
	d.links[token] = pendingLink{
		email:          normalize(email),
		redirectTarget: redirectTarget,
		expiresAt:      expires,
	}
	d.mu.Unlock()

	d.logger.Info("passwordless link issued",
		"email", email,
		"redirect_target", redirectTarget,
	)
	return &LinkConfirmation{
		Email:          normalize(email),
		RedirectTarget: redirectTarget,
		Token:          token,
		ExpiresAt:      expires,
	}, nil
}

// ResolveLink consumes a link token, provisioning an account for the email
// when none exists. The provisioned account has no password yet.
func (d *Directory) ResolveLink(token string) (uuid.UUID, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	link, ok := d.links[token]
	if !ok {
		return uuid.Nil, "", dErrors.New(dErrors.CodeAuthService, "unknown login link")
	}
	delete(d.links, token)
	if d.clock().After(link.expiresAt) {
		return uuid.Nil, "", dErrors.New(dErrors.CodeAuthService, "login link expired")
	}

	acct, ok := d.accounts[link.email]
	if !ok {
		acct = &account{userID: uuid.New(), email: link.email}
		d.accounts[link.email] = acct
	}
	acct.linkVerifiedAt = d.clock()
	return acct.userID, acct.email, nil
}

// HasPassword reports whether password credentials exist for the email.
func (d *Directory) HasPassword(email string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[normalize(email)]
	return ok && acct.passwordSet
}

type accessClaims struct {
	SessionID string `json:"sid"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// issueSession mints a session with a signed HS256 access token.
func (d *Directory) issueSession(userID uuid.UUID, email, deviceLabel string) (*Session, error) {
	now := d.clock()
	sessionID := uuid.New()
	claims := accessClaims{
		SessionID: sessionID.String(),
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    "artfolio",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d.sessionTTL)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.signingKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthService, "failed to sign access token")
	}
	return &Session{
		ID:          sessionID,
		UserID:      userID,
		Email:       email,
		AccessToken: signed,
		DeviceLabel: deviceLabel,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.sessionTTL),
	}, nil
}

// VerifyAccessToken parses and validates a session access token, returning
// the subject id.
func (d *Directory) VerifyAccessToken(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return d.signingKey, nil
	}, jwt.WithTimeFunc(d.clock))
	if err != nil || !parsed.Valid {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "invalid access token")
	}
	claims := parsed.Claims.(*accessClaims)
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "invalid access token subject")
	}
	return subject, nil
}

// NormalizeEmail is the canonical form the directory keys accounts by.
// Callers comparing or looking up emails elsewhere must apply the same form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalize(email string) string {
	return NormalizeEmail(email)
}
