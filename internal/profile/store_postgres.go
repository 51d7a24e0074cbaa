package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jasonw10105-ux/artflow-sub000/migrations"
)

const changeChannel = "profile_changes"

// PostgresStore persists profiles in PostgreSQL and serves change feeds off
// a LISTEN/NOTIFY listener, so subscribers observe writes made by any node.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *slog.Logger

	mu      sync.Mutex
	subs    map[uuid.UUID]map[uint64]func(ChangeEvent)
	nextSub uint64
}

// NewPostgres opens a profile store on the given DSN and starts the
// change-feed listener. Call Close to release both connections.
func NewPostgres(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	listener := pq.NewListener(dsn, time.Second, time.Minute, nil)
	if err := listener.Listen(changeChannel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen %s: %w", changeChannel, err)
	}

	s := &PostgresStore{
		db:       db,
		listener: listener,
		logger:   logger,
		subs:     make(map[uuid.UUID]map[uint64]func(ChangeEvent)),
	}
	go s.run()
	return s, nil
}

// Migrate applies the embedded schema migrations in lexical order. Every
// statement is idempotent, so running this on each startup is safe.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		s.logger.Debug("migration applied", "name", name)
	}
	return nil
}

// Close stops the listener and closes the database pool.
func (s *PostgresStore) Close() error {
	err := s.listener.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

const selectColumns = "id, email, display_name, bio, category, password_set, created_at, updated_at"

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM profiles WHERE id = $1", id)
	return scanProfile(row)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM profiles WHERE LOWER(email) = LOWER($1)", email)
	return scanProfile(row)
}

// Upsert inserts or merge-overwrites the supplied fields, keyed by subject
// id. COALESCE keeps unset fields at their stored values on conflict.
func (s *PostgresStore) Upsert(ctx context.Context, id uuid.UUID, fields Fields) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, display_name, bio, category, password_set, created_at, updated_at)
		VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, 'creator'), COALESCE($6, FALSE), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email        = COALESCE($2, profiles.email),
			display_name = COALESCE($3, profiles.display_name),
			bio          = COALESCE($4, profiles.bio),
			category     = COALESCE($5, profiles.category),
			password_set = COALESCE($6, profiles.password_set),
			updated_at   = NOW()
		RETURNING `+selectColumns,
		id, fields.Email, fields.DisplayName, fields.Bio, (*string)(fields.Category), fields.PasswordSet)

	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventUpdated, id)
	return p, nil
}

// Update applies a partial update to an existing row.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, fields Fields) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE profiles SET
			email        = COALESCE($2, email),
			display_name = COALESCE($3, display_name),
			bio          = COALESCE($4, bio),
			category     = COALESCE($5, category),
			password_set = COALESCE($6, password_set),
			updated_at   = NOW()
		WHERE id = $1
		RETURNING `+selectColumns,
		id, fields.Email, fields.DisplayName, fields.Bio, (*string)(fields.Category), fields.PasswordSet)

	p, err := scanProfile(row)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventUpdated, id)
	return p, nil
}

// Delete removes the row and broadcasts a deleted event.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile not found: %w", ErrNotFound)
	}
	s.notify(ctx, EventDeleted, id)
	return nil
}

// Subscribe registers fn for the subject's change events. Delivery happens
// on the listener goroutine after the corresponding NOTIFY arrives.
func (s *PostgresStore) Subscribe(id uuid.UUID, fn func(ChangeEvent)) (*Subscription, error) {
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
func (s *PostgresStore) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

type changePayload struct {
	ID   uuid.UUID `json:"id"`
	Kind EventKind `json:"kind"`
}

// notify broadcasts the change through Postgres so every node's listener,
// including our own, picks it up.
func (s *PostgresStore) notify(ctx context.Context, kind EventKind, id uuid.UUID) {
	payload, _ := json.Marshal(changePayload{ID: id, Kind: kind})
	if _, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", changeChannel, string(payload)); err != nil {
		s.logger.ErrorContext(ctx, "profile change notify failed",
			"subject_id", id.String(),
			"kind", string(kind),
			"error", err,
		)
	}
}

// run consumes NOTIFY deliveries until the listener is closed.
func (s *PostgresStore) run() {
	for n := range s.listener.Notify {
		if n == nil {
			// nil signals a reconnect; subscribers keep last-known-good
			// state and pick up from the next delivery.
			s.logger.Warn("profile change listener reconnected")
			continue
		}
		var payload changePayload
		if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
			s.logger.Warn("malformed profile change payload", "payload", n.Extra, "error", err)
			continue
		}
		s.deliver(payload)
	}
}

func (s *PostgresStore) deliver(payload changePayload) {
	ev := ChangeEvent{Kind: payload.Kind, Subject: payload.ID}
	if payload.Kind == EventUpdated {
		p, err := s.FindByID(context.Background(), payload.ID)
		if err != nil {
			// Row vanished between NOTIFY and read; treat as deleted.
			if errors.Is(err, ErrNotFound) {
				ev = ChangeEvent{Kind: EventDeleted, Subject: payload.ID}
			} else {
				s.logger.Warn("profile change fetch failed", "subject_id", payload.ID.String(), "error", err)
				return
			}
		} else {
			ev.Profile = p
		}
	}

	s.mu.Lock()
	set := s.subs[payload.ID]
	targets := make([]func(ChangeEvent), 0, len(set))
	for _, fn := range set {
		targets = append(targets, fn)
	}
	s.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Bio, &p.Category, &p.PasswordSet, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}
