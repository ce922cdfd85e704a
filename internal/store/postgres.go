// Package store provides identity storage backends for CampusRelay.
//
// This file implements a PostgreSQL-backed store for users and identity links.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/campusrelay/CampusRelay/internal/models"
	_ "github.com/lib/pq"
)

// Constants for PostgreSQL connection pool configuration
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
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

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUserByCredential(ctx context.Context, credential string) (models.User, error) {
	var u models.User
	row := s.db.QueryRowContext(ctx, `SELECT id, credential, display_name, role, external_ref FROM users WHERE credential = $1`, credential)
	if err := row.Scan(&u.ID, &u.Credential, &u.DisplayName, &u.Role, &u.ExternalRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		slog.Error("PostgresStore GetUserByCredential failed", "error", err)
		return models.User{}, fmt.Errorf("failed to query user by credential: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	row := s.db.QueryRowContext(ctx, `SELECT id, credential, display_name, role, external_ref FROM users WHERE id = $1`, id)
	if err := row.Scan(&u.ID, &u.Credential, &u.DisplayName, &u.Role, &u.ExternalRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		slog.Error("PostgresStore GetUserByID failed", "error", err, "id", id)
		return models.User{}, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) SaveIdentityLink(ctx context.Context, sessionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO identity_links (session_id, user_id) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET user_id = EXCLUDED.user_id`, sessionID, userID)
	if err != nil {
		slog.Error("PostgresStore SaveIdentityLink failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to save identity link for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore SaveIdentityLink succeeded", "session", sessionID, "user", userID)
	return nil
}

func (s *PostgresStore) GetIdentityLink(ctx context.Context, sessionID string) (string, error) {
	var userID string
	row := s.db.QueryRowContext(ctx, `SELECT user_id FROM identity_links WHERE session_id = $1`, sessionID)
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrLinkNotFound
		}
		slog.Error("PostgresStore GetIdentityLink failed", "error", err, "session", sessionID)
		return "", fmt.Errorf("failed to query identity link for %s: %w", sessionID, err)
	}
	return userID, nil
}

func (s *PostgresStore) DeleteIdentityLink(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_links WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteIdentityLink failed", "error", err, "session", sessionID)
		return fmt.Errorf("failed to delete identity link for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore DeleteIdentityLink succeeded", "session", sessionID)
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
