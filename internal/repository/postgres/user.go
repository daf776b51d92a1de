package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, site_id, email, password_hash, role, verified, created_at, updated_at`

// Create inserts a new user. The (site, email) unique index is the single
// arbiter of duplicates, so concurrent registrations race safely here.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, site_id, email, password_hash, role, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.SiteID,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.Verified,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("email already registered for this site")
		}
		return storeErr("insert user", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// GetByEmail retrieves a user within a site by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, siteID uuid.UUID, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE site_id = $1 AND lower(email) = lower($2)`
	return r.scanUser(ctx, query, siteID, email)
}

// ListBySite returns all users of a site ordered by creation time.
func (r *UserRepository) ListBySite(ctx context.Context, siteID uuid.UUID) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE site_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, siteID)
	if err != nil {
		return nil, storeErr("query users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := scanUserRow(rows, &u); err != nil {
			return nil, storeErr("scan user", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// Update modifies an existing user in the database.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $1, password_hash = $2, role = $3, verified = $4, updated_at = $5
		WHERE id = $6`

	ct, err := r.db.Exec(ctx, query,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.Verified,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("email already registered for this site")
		}
		return storeErr("update user", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID.String())
	}

	return nil
}

// Delete removes a user; cascading constraints clear their tokens.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete user", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id.String())
	}

	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := scanUserRow(r.db.QueryRow(ctx, query, args...), &u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("scan user", err)
	}
	return &u, nil
}

func scanUserRow(row pgx.Row, u *domain.User) error {
	return row.Scan(
		&u.ID,
		&u.SiteID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.Verified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
}
