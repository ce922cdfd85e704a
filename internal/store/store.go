// Package store provides identity storage backends for CampusRelay.
//
// It persists the university's user records and the optional long-lived
// session-to-user identity links that let a returning conversation skip
// credential re-entry. Backends: in-memory (tests and development), SQLite
// and PostgreSQL.
package store

import (
	"context"
	"strings"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// Store defines the identity persistence interface injected into the
// orchestrator. Absence of a Store degrades gracefully to always requiring
// credential entry.
type Store interface {
	// GetUserByCredential resolves a credential token to a user record.
	// Returns models.ErrUserNotFound when the credential is unknown.
	GetUserByCredential(ctx context.Context, credential string) (models.User, error)

	// GetUserByID resolves a user id to a user record.
	// Returns models.ErrUserNotFound when the id is unknown.
	GetUserByID(ctx context.Context, id string) (models.User, error)

	// SaveIdentityLink associates a session id with a user id so future
	// conversations can authenticate without re-entering the credential.
	SaveIdentityLink(ctx context.Context, sessionID, userID string) error

	// GetIdentityLink returns the user id linked to a session id.
	// Returns models.ErrLinkNotFound when no link exists.
	GetIdentityLink(ctx context.Context, sessionID string) (string, error)

	// DeleteIdentityLink removes the link for a session id. Deleting a
	// missing link is not an error.
	DeleteIdentityLink(ctx context.Context, sessionID string) error

	// Close releases any underlying resources.
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
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType inspects a DSN and reports "postgres" for PostgreSQL
// connection strings and "sqlite" for anything else (assumed file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
