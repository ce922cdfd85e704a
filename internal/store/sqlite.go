// Package store provides identity storage backends for CampusRelay.
//
// This file implements an SQLite-backed store for users and identity links.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/campusrelay/CampusRelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUserByCredential(ctx context.Context, credential string) (models.User, error) {
	var u models.User
	row := s.db.QueryRowContext(ctx, `SELECT id, credential, display_name, role, external_ref FROM users WHERE credential = ?`, credential)
	if err := row.Scan(&u.ID, &u.Credential, &u.DisplayName, &u.Role, &u.ExternalRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		slog.Error("SQLiteStore GetUserByCredential failed", "error", err)
		return models.User{}, fmt.Errorf("failed to query user by credential: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	row := s.db.QueryRowContext(ctx, `SELECT id, credential, display_name, role, external_ref FROM users WHERE id = ?`, id)
	if err := row.Scan(&u.ID, &u.Credential, &u.DisplayName, &u.Role, &u.ExternalRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		slog.Error("SQLiteStore GetUserByID failed", "error", err, "id", id)
		return models.User{}, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQLiteStore) SaveIdentityLink(ctx context.Context, sessionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO identity_links (session_id, user_id) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET user_id = excluded.user_id`, sessionID, userID)
	if err != nil {
		slog.Error("SQLiteStore SaveIdentityLink failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to save identity link for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore SaveIdentityLink succeeded", "session", sessionID, "user", userID)
	return nil
}

func (s *SQLiteStore) GetIdentityLink(ctx context.Context, sessionID string) (string, error) {
	var userID string
	row := s.db.QueryRowContext(ctx, `SELECT user_id FROM identity_links WHERE session_id = ?`, sessionID)
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrLinkNotFound
		}
		slog.Error("SQLiteStore GetIdentityLink failed", "error", err, "session", sessionID)
		return "", fmt.Errorf("failed to query identity link for %s: %w", sessionID, err)
	}
	return userID, nil
}

func (s *SQLiteStore) DeleteIdentityLink(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_links WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteIdentityLink failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to delete identity link for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteIdentityLink succeeded", "session", sessionID)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
