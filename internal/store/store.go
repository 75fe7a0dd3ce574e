// Package store provides storage backends for LeadPipe.
//
// It persists users, their append-only message logs, and captured leads.
// Three backends are available: SQLite (default), PostgreSQL, and an
// in-memory store used by tests and zero-configuration runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leadpipe/leadpipe/internal/models"
)

// Sentinel errors shared by all backends.
var (
	// ErrUnavailable wraps any backend failure; callers treat it as
	// "storage unavailable" and abort the current event.
	ErrUnavailable = errors.New("store unavailable")
	// ErrDuplicateUser is returned by CreateUser when the external identity
	// already exists. The uniqueness constraint at the store boundary is
	// authoritative; losers of a concurrent creation race get this error
	// and re-read the existing row.
	ErrDuplicateUser = errors.New("user already exists")
)

// Store is the persistence contract the core pipeline depends on.
//
// RecentMessages returns messages newest-first; the conversation adapter is
// the single place that reverses them into chronological order. beforeID
// bounds the result to rows inserted before the given message id, which is
// how the just-appended inbound message is excluded from its own window.
type Store interface {
	// FindUserByExternalID returns the user for the given external identity,
	// or (nil, nil) when no such user exists.
	FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error)

	// CreateUser inserts a new user. Returns ErrDuplicateUser when a user
	// with the same external identity already exists.
	CreateUser(ctx context.Context, u models.User) (*models.User, error)

	// AddMessage appends one message to a user's log and returns its id.
	AddMessage(ctx context.Context, userID int64, text string) (int64, error)

	// RecentMessages returns up to limit messages for the user, newest-first,
	// restricted to ids strictly below beforeID. beforeID <= 0 means no bound.
	RecentMessages(ctx context.Context, userID int64, limit int, beforeID int64) ([]models.Message, error)

	// AddLead persists a captured lead and returns the stored record.
	AddLead(ctx context.Context, l models.Lead) (*models.Lead, error)

	// ListUsers returns all users, oldest-first. Operator audit surface.
	ListUsers(ctx context.Context) ([]models.User, error)

	// ListLeads returns all leads, oldest-first. Operator audit surface.
	ListLeads(ctx context.Context) ([]models.Lead, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New builds a store from the provided options: PostgreSQL for postgres-style
// DSNs, SQLite for file paths, and the in-memory store when no DSN is set.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// unavailable wraps a backend failure so callers can match ErrUnavailable
// while the log line at the failure site keeps the underlying cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// InMemoryStore is a mutex-guarded in-memory implementation of Store.
// It enforces the same external-id uniqueness rule as the SQL backends.
type InMemoryStore struct {
	mu       sync.Mutex
	users    []models.User
	messages []models.Message
	leads    []models.Lead
	nextUser int64
	nextMsg  int64
	nextLead int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextUser: 1, nextMsg: 1, nextLead: 1}
}

func (s *InMemoryStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.ExternalID == u.ExternalID {
			return nil, fmt.Errorf("create user %d: %w", u.ExternalID, ErrDuplicateUser)
		}
	}
	u.ID = s.nextUser
	s.nextUser++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users = append(s.users, u)
	created := u
	return &created, nil
}

func (s *InMemoryStore) AddMessage(ctx context.Context, userID int64, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{ID: s.nextMsg, UserID: userID, Text: text, CreatedAt: time.Now().UTC()}
	s.nextMsg++
	s.messages = append(s.messages, m)
	return m.ID, nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, userID int64, limit int, beforeID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Message
	for _, m := range s.messages {
		if m.UserID != userID {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) AddLead(ctx context.Context, l models.Lead) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextLead
	s.nextLead++
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.leads = append(s.leads, l)
	created := l
	return &created, nil
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *InMemoryStore) ListLeads(ctx context.Context) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Lead, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
