// Package store provides storage backends for LeadPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Cascade deletes on messages and leads rely on foreign keys being on.
	if !strings.Contains(dsn, "_foreign_keys") {
		dsn += "?_foreign_keys=on"
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// isSQLiteUniqueViolation reports whether err is a unique constraint failure.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *SQLiteStore) FindUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, username, first_name, last_name, created_at FROM users WHERE external_id = ?`,
		externalID)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindUserByExternalID not found", "externalID", externalID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindUserByExternalID failed", "error", err, "externalID", externalID)
		return nil, unavailable("find user", err)
	}
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (external_id, username, first_name, last_name) VALUES (?, ?, ?, ?)`,
		u.ExternalID, nilIfEmpty(u.Username), nilIfEmpty(u.FirstName), nilIfEmpty(u.LastName))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			slog.Debug("SQLiteStore CreateUser duplicate", "externalID", u.ExternalID)
			return nil, fmt.Errorf("create user %d: %w", u.ExternalID, ErrDuplicateUser)
		}
		slog.Error("SQLiteStore CreateUser failed", "error", err, "externalID", u.ExternalID)
		return nil, unavailable("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		slog.Error("SQLiteStore CreateUser last insert id failed", "error", err, "externalID", u.ExternalID)
		return nil, unavailable("create user", err)
	}
	slog.Debug("SQLiteStore CreateUser succeeded", "id", id, "externalID", u.ExternalID)
	return s.FindUserByExternalID(ctx, u.ExternalID)
}

func (s *SQLiteStore) AddMessage(ctx context.Context, userID int64, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages (user_id, text) VALUES (?, ?)`, userID, text)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "userID", userID)
		return 0, unavailable("add message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		slog.Error("SQLiteStore AddMessage last insert id failed", "error", err, "userID", userID)
		return 0, unavailable("add message", err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "id", id, "userID", userID)
	return id, nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, userID int64, limit int, beforeID int64) ([]models.Message, error) {
	query := `SELECT id, user_id, text, created_at FROM messages WHERE user_id = ?`
	args := []interface{}{userID}
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore RecentMessages query failed", "error", err, "userID", userID)
		return nil, unavailable("recent messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore RecentMessages scan failed", "error", err, "userID", userID)
			return nil, unavailable("recent messages", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore RecentMessages rows iteration failed", "error", err, "userID", userID)
		return nil, unavailable("recent messages", err)
	}
	slog.Debug("SQLiteStore RecentMessages succeeded", "userID", userID, "count", len(messages))
	return messages, nil
}

func (s *SQLiteStore) AddLead(ctx context.Context, l models.Lead) (*models.Lead, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (user_id, contact, note) VALUES (?, ?, ?)`,
		l.UserID, l.Contact, nilIfEmpty(l.Note))
	if err != nil {
		slog.Error("SQLiteStore AddLead failed", "error", err, "userID", l.UserID)
		return nil, unavailable("add lead", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		slog.Error("SQLiteStore AddLead last insert id failed", "error", err, "userID", l.UserID)
		return nil, unavailable("add lead", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, contact, note, created_at FROM leads WHERE id = ?`, id)
	lead, err := scanLeadRow(row)
	if err != nil {
		slog.Error("SQLiteStore AddLead readback failed", "error", err, "id", id)
		return nil, unavailable("add lead", err)
	}
	slog.Debug("SQLiteStore AddLead succeeded", "id", id, "userID", l.UserID)
	return lead, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, username, first_name, last_name, created_at FROM users ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			slog.Error("SQLiteStore ListUsers scan failed", "error", err)
			return nil, unavailable("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListUsers rows iteration failed", "error", err)
		return nil, unavailable("list users", err)
	}
	return users, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, contact, note, created_at FROM leads ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err)
		return nil, unavailable("list leads", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			slog.Error("SQLiteStore ListLeads scan failed", "error", err)
			return nil, unavailable("list leads", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListLeads rows iteration failed", "error", err)
		return nil, unavailable("list leads", err)
	}
	return leads, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
