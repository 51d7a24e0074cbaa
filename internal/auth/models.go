package auth

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated login. At most one current Session
// exists per client-scoped provider; the session controller treats the most
// recently observed one as authoritative.
type Session struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	AccessToken string    `json:"-"`
	DeviceLabel string    `json:"device_label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// LinkConfirmation is the opaque acknowledgement returned when a
// passwordless login link has been dispatched. The token is what the link
// callback presents; a real mailer would embed it in the email.
type LinkConfirmation struct {
	Email          string    `json:"email"`
	RedirectTarget string    `json:"redirect_target"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
}
