// Package store provides storage backends for LeadPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pqUniqueViolation is the PostgreSQL error code for unique_violation.
const pqUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// isPostgresUniqueViolation reports whether err is a unique constraint failure.
func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

func (s *PostgresStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, username, first_name, last_name, created_at FROM users WHERE external_id = $1`,
		externalID)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindUserByExternalID not found", "externalID", externalID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindUserByExternalID failed", "error", err, "externalID", externalID)
		return nil, unavailable("find user", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (external_id, username, first_name, last_name) VALUES ($1, $2, $3, $4)
		 RETURNING id, external_id, username, first_name, last_name, created_at`,
		u.ExternalID, nilIfEmpty(u.Username), nilIfEmpty(u.FirstName), nilIfEmpty(u.LastName))
	created, err := scanUserRow(row)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			slog.Debug("PostgresStore CreateUser duplicate", "externalID", u.ExternalID)
			return nil, fmt.Errorf("create user %d: %w", u.ExternalID, ErrDuplicateUser)
		}
		slog.Error("PostgresStore CreateUser failed", "error", err, "externalID", u.ExternalID)
		return nil, unavailable("create user", err)
	}
	slog.Debug("PostgresStore CreateUser succeeded", "id", created.ID, "externalID", u.ExternalID)
	return created, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, userID int64, text string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (user_id, text) VALUES ($1, $2) RETURNING id`,
		userID, text).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "userID", userID)
		return 0, unavailable("add message", err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "id", id, "userID", userID)
	return id, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, userID int64, limit int, beforeID int64) ([]models.Message, error) {
	query := `SELECT id, user_id, text, created_at FROM messages WHERE user_id = $1`
	args := []interface{}{userID}
	if beforeID > 0 {
		query += ` AND id < $2 ORDER BY id DESC LIMIT $3`
		args = append(args, beforeID, limit)
	} else {
		query += ` ORDER BY id DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore RecentMessages query failed", "error", err, "userID", userID)
		return nil, unavailable("recent messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore RecentMessages scan failed", "error", err, "userID", userID)
			return nil, unavailable("recent messages", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore RecentMessages rows iteration failed", "error", err, "userID", userID)
		return nil, unavailable("recent messages", err)
	}
	slog.Debug("PostgresStore RecentMessages succeeded", "userID", userID, "count", len(messages))
	return messages, nil
}

func (s *PostgresStore) AddLead(ctx context.Context, l models.Lead) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO leads (user_id, contact, note) VALUES ($1, $2, $3)
		 RETURNING id, user_id, contact, note, created_at`,
		l.UserID, l.Contact, nilIfEmpty(l.Note))
	created, err := scanLeadRow(row)
	if err != nil {
		slog.Error("PostgresStore AddLead failed", "error", err, "userID", l.UserID)
		return nil, unavailable("add lead", err)
	}
	slog.Debug("PostgresStore AddLead succeeded", "id", created.ID, "userID", l.UserID)
	return created, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, username, first_name, last_name, created_at FROM users ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("PostgresStore ListUsers scan failed", "error", err)
			return nil, unavailable("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListUsers rows iteration failed", "error", err)
		return nil, unavailable("list users", err)
	}
	return users, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, contact, note, created_at FROM leads ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err)
		return nil, unavailable("list leads", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			slog.Error("PostgresStore ListLeads scan failed", "error", err)
			return nil, unavailable("list leads", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListLeads rows iteration failed", "error", err)
		return nil, unavailable("list leads", err)
	}
	return leads, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
