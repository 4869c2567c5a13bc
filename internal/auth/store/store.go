package store

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement it and
// hand out sub-repositories, so a Tx-scoped Store cannot start another
// transaction by accident.
//
// Only user profiles live here. Cached validations and CSRF states are kept in
// memory and are lost on restart.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. It rolls back when fn returns
	// an error and commits otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// UpsertLogin records a successful login. New subjects get u.ID; known
	// subjects keep their ID and first-seen time while the profile fields and
	// last login are overwritten. ProviderAdmin is replaced on every login;
	// IsAdmin is only taken from u when the subject is new.
	UpsertLogin(ctx context.Context, u domain.User) (domain.User, error)

	// GetUserBySubject returns the profile for a provider subject.
	GetUserBySubject(ctx context.Context, subject string) (domain.User, error)

	// ListUsers returns every profile, most recent login first.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// SetAdmin flips the explicit approval. ErrNotFound when the subject is unknown.
	SetAdmin(ctx context.Context, subject string, admin bool) error

	// CountAdmins returns how many stored profiles are admins by approval or
	// by the provider flag of their last login.
	CountAdmins(ctx context.Context) (int, error)
}
