package profile

import (
	"errors"

	"github.com/google/uuid"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
var ErrNotFound = errors.New("not found")

// Subscription is a live change-feed registration for one subject id.
// Stores set cancel when handing the handle out; Unsubscribe invokes it.
type Subscription struct {
	Subject uuid.UUID
	cancel  func()
}

// Cancel tears the registration down. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}
