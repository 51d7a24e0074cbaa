package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps profiles in memory and fans change events out to
// per-subject subscribers. It backs tests, development, and single-node
// deployments without Postgres.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*Profile
	subs     map[uuid.UUID]map[uint64]func(ChangeEvent)
	nextSub  uint64
	clock    func() time.Time
}

// NewInMemory constructs an empty in-memory profile store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[uuid.UUID]*Profile),
		subs:     make(map[uuid.UUID]map[uint64]func(ChangeEvent)),
		clock:    time.Now,
	}
}

// WithClock overrides the timestamp source. Test seam.
func (s *InMemoryStore) WithClock(clock func() time.Time) *InMemoryStore {
	s.clock = clock
	return s
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[id]; ok {
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("profile not found: %w", ErrNotFound)
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("profile not found: %w", ErrNotFound)
}

// Upsert inserts the row or merge-overwrites the supplied fields into the
// existing one, then notifies the subject's subscribers.
func (s *InMemoryStore) Upsert(_ context.Context, id uuid.UUID, fields Fields) (*Profile, error) {
	s.mu.Lock()
	now := s.clock()
	p, ok := s.profiles[id]
	if !ok {
		p = &Profile{ID: id, CreatedAt: now}
		s.profiles[id] = p
	}
	fields.Apply(p)
	p.UpdatedAt = now
	row := p.Clone()
	targets := s.subscribersLocked(id)
	s.mu.Unlock()

	dispatch(targets, ChangeEvent{Kind: EventUpdated, Subject: id, Profile: row})
	return row, nil
}

// Update applies a partial update to an existing row. Missing rows are an
// error; the caller decides whether that is a persistence failure.
func (s *InMemoryStore) Update(_ context.Context, id uuid.UUID, fields Fields) (*Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("profile not found: %w", ErrNotFound)
	}
	fields.Apply(p)
	p.UpdatedAt = s.clock()
	row := p.Clone()
	targets := s.subscribersLocked(id)
	s.mu.Unlock()

	dispatch(targets, ChangeEvent{Kind: EventUpdated, Subject: id, Profile: row})
	return row, nil
}

// Delete removes the row and notifies subscribers with a deleted event.
func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.profiles[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("profile not found: %w", ErrNotFound)
	}
	delete(s.profiles, id)
	targets := s.subscribersLocked(id)
	s.mu.Unlock()

	dispatch(targets, ChangeEvent{Kind: EventDeleted, Subject: id})
	return nil
}

// Subscribe registers fn for the subject's change events. Events are
// delivered synchronously on the mutating goroutine, with no store lock
// held, so subscribers may call back into the store.
func (s *InMemoryStore) Subscribe(id uuid.UUID, fn func(ChangeEvent)) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	key := s.nextSub
	if s.subs[id] == nil {
		s.subs[id] = make(map[uint64]func(ChangeEvent))
	}
	s.subs[id][key] = fn

	return &Subscription{
		Subject: id,
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			set := s.subs[id]
			delete(set, key)
			if len(set) == 0 {
				delete(s.subs, id)
			}
		},
	}, nil
}

// Unsubscribe tears down a registration. nil handles are tolerated.
func (s *InMemoryStore) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

// SubscriberCount reports live registrations for a subject. Test seam for
// leak checks.
func (s *InMemoryStore) SubscriberCount(id uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[id])
}

func (s *InMemoryStore) subscribersLocked(id uuid.UUID) []func(ChangeEvent) {
	set := s.subs[id]
	targets := make([]func(ChangeEvent), 0, len(set))
	for _, fn := range set {
		targets = append(targets, fn)
	}
	return targets
}

func dispatch(targets []func(ChangeEvent), ev ChangeEvent) {
	for _, fn := range targets {
		fn(ev)
	}
}
