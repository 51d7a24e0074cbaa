package profile

import (
	"time"

	"github.com/google/uuid"
)

// Category is the account category a profile belongs to. The set is closed:
// creators publish portfolios, collectors send inquiries.
type Category string

const (
	CategoryCreator   Category = "creator"
	CategoryCollector Category = "collector"
)

// Valid reports whether the category is one of the closed set.
func (c Category) Valid() bool {
	return c == CategoryCreator || c == CategoryCollector
}

// Profile is the application-level user record. Its ID is the subject
// identifier shared with the auth provider's Session; a row exists exactly
// when sign-up has completed.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	Category    Category  `json:"category"`
	// PasswordSet records whether password credentials have been
	// established. False while the account only exists through a
	// passwordless link.
	PasswordSet bool      `json:"password_set"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy so stores can hand out rows without aliasing their
// internal state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Fields carries a partial update. Nil members are left untouched.
type Fields struct {
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	Category    *Category `json:"category,omitempty"`
	PasswordSet *bool     `json:"password_set,omitempty"`
}

// Apply merges the set fields into the profile.
func (f Fields) Apply(p *Profile) {
	if f.Email != nil {
		p.Email = *f.Email
	}
	if f.DisplayName != nil {
		p.DisplayName = *f.DisplayName
	}
	if f.Bio != nil {
		p.Bio = *f.Bio
	}
	if f.Category != nil {
		p.Category = *f.Category
	}
	if f.PasswordSet != nil {
		p.PasswordSet = *f.PasswordSet
	}
}

// EventKind tags a change-feed event.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// ChangeEvent is one delivery on a profile change feed. Profile is nil for
// deleted events.
type ChangeEvent struct {
	Kind    EventKind
	Subject uuid.UUID
	Profile *Profile
}
