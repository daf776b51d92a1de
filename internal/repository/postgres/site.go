package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// SiteRepository implements repository.SiteRepository using PostgreSQL.
type SiteRepository struct {
	db DB
}

// NewSiteRepository creates a new PostgreSQL-backed site repository.
func NewSiteRepository(db DB) *SiteRepository {
	return &SiteRepository{db: db}
}

const siteColumns = `id, name, domain, frontend_url, verification_redirect, email_from, email_from_name, active, created_at, updated_at`

// Create inserts a new site into the database.
func (r *SiteRepository) Create(ctx context.Context, s *domain.Site) error {
	query := `
		INSERT INTO sites (id, name, domain, frontend_url, verification_redirect, email_from, email_from_name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.Name,
		s.Domain,
		s.FrontendURL,
		s.VerificationRedirect,
		s.EmailFrom,
		s.EmailFromName,
		s.Active,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("site with domain %q already exists", s.Domain))
		}
		return storeErr("insert site", err)
	}

	return nil
}

// GetByID retrieves a site by its ID.
func (r *SiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1`
	return r.scanSite(ctx, query, id)
}

// GetByDomain retrieves a site by its domain, case-insensitively.
func (r *SiteRepository) GetByDomain(ctx context.Context, dom string) (*domain.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE lower(domain) = lower($1)`
	return r.scanSite(ctx, query, dom)
}

// List returns all sites ordered by creation time.
func (r *SiteRepository) List(ctx context.Context) ([]domain.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, storeErr("query sites", err)
	}
	defer rows.Close()

	var sites []domain.Site
	for rows.Next() {
		var s domain.Site
		if err := scanSiteRow(rows, &s); err != nil {
			return nil, storeErr("scan site", err)
		}
		sites = append(sites, s)
	}

	return sites, rows.Err()
}

// Update applies a partial update and returns the updated site.
func (r *SiteRepository) Update(ctx context.Context, id uuid.UUID, update *domain.SiteUpdate) (*domain.Site, error) {
	set := make([]string, 0, 8)
	args := make([]any, 0, 9)

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Domain != nil {
		add("domain", *update.Domain)
	}
	if update.FrontendURL != nil {
		add("frontend_url", *update.FrontendURL)
	}
	if update.VerificationRedirect != nil {
		add("verification_redirect", *update.VerificationRedirect)
	}
	if update.EmailFrom != nil {
		add("email_from", *update.EmailFrom)
	}
	if update.EmailFromName != nil {
		add("email_from_name", *update.EmailFromName)
	}
	if update.Active != nil {
		add("active", *update.Active)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE sites SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), siteColumns,
	)

	site, err := r.scanSite(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("site domain already in use")
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("site", id.String())
		}
		return nil, err
	}
	return site, nil
}

func (r *SiteRepository) scanSite(ctx context.Context, query string, args ...any) (*domain.Site, error) {
	var s domain.Site
	err := scanSiteRow(r.db.QueryRow(ctx, query, args...), &s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, storeErr("scan site", err)
	}
	return &s, nil
}

func scanSiteRow(row pgx.Row, s *domain.Site) error {
	return row.Scan(
		&s.ID,
		&s.Name,
		&s.Domain,
		&s.FrontendURL,
		&s.VerificationRedirect,
		&s.EmailFrom,
		&s.EmailFromName,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}
