// Package repository defines the persistence interfaces implemented by the
// postgres and memory stores.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fernwood/siteauth/internal/domain"
)

// SiteRepository defines the interface for site persistence operations.
type SiteRepository interface {
	// Create inserts a new site into the store.
	Create(ctx context.Context, site *domain.Site) error

	// GetByID retrieves a site by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Site, error)

	// GetByDomain retrieves a site by its domain. Lookup is case-insensitive.
	GetByDomain(ctx context.Context, dom string) (*domain.Site, error)

	// List returns all sites ordered by creation time.
	List(ctx context.Context) ([]domain.Site, error)

	// Update applies a partial update and returns the updated site.
	Update(ctx context.Context, id uuid.UUID, update *domain.SiteUpdate) (*domain.Site, error)
}

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user. A duplicate (site, email) pair yields
	// ErrConflict.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user within a site by email address. Lookup is
	// case-insensitive.
	GetByEmail(ctx context.Context, siteID uuid.UUID, email string) (*domain.User, error)

	// ListBySite returns all users of a site ordered by creation time.
	ListBySite(ctx context.Context, siteID uuid.UUID) ([]domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user and, via cascading constraints, all their tokens.
	Delete(ctx context.Context, id uuid.UUID) error
}

// TokenRepository defines the interface for the four token ledgers. Every
// operation takes the kind explicitly; implementations keep one table (or
// bucket) per kind.
type TokenRepository interface {
	// Insert stores a new token row.
	Insert(ctx context.Context, token *domain.Token) error

	// GetByValue retrieves a live token row by its opaque value. Expired or
	// already-used rows are not returned.
	GetByValue(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error)

	// Consume atomically retires the token identified by value and returns
	// the retired row, or ErrNotFound if no live token matched. Session,
	// verification and change tokens are deleted; reset tokens are flagged
	// used and retained.
	Consume(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error)

	// DeleteForUser removes all of a user's tokens of the given kind and
	// returns the number removed.
	DeleteForUser(ctx context.Context, kind domain.TokenKind, userID uuid.UUID) (int64, error)

	// PurgeExpired removes rows expired before the cutoff and returns the
	// number removed. For reset tokens it also removes used rows older than
	// the cutoff.
	PurgeExpired(ctx context.Context, kind domain.TokenKind, cutoff time.Time) (int64, error)
}
