// Package service implements the business logic of the authentication
// backend.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/repository"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// SiteService implements site provisioning and lookup.
type SiteService struct {
	siteRepo repository.SiteRepository
	logger   *slog.Logger
}

// NewSiteService creates a new site service.
func NewSiteService(siteRepo repository.SiteRepository, logger *slog.Logger) *SiteService {
	return &SiteService{siteRepo: siteRepo, logger: logger}
}

// CreateSiteInput holds the parameters for provisioning a new site.
type CreateSiteInput struct {
	Name                 string
	Domain               string
	FrontendURL          string
	VerificationRedirect string
	EmailFrom            string
	EmailFromName        string
}

// Create provisions a new site. Domains are stored lowercased; uniqueness is
// case-insensitive.
func (s *SiteService) Create(ctx context.Context, input CreateSiteInput) (*domain.Site, error) {
	if input.Name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	dom := normalizeDomain(input.Domain)
	if dom == "" {
		return nil, apperrors.InvalidInput("domain is required")
	}

	now := time.Now().UTC()
	site := &domain.Site{
		ID:                   uuid.New(),
		Name:                 input.Name,
		Domain:               dom,
		FrontendURL:          strings.TrimSpace(input.FrontendURL),
		VerificationRedirect: strings.TrimSpace(input.VerificationRedirect),
		EmailFrom:            strings.TrimSpace(input.EmailFrom),
		EmailFromName:        strings.TrimSpace(input.EmailFromName),
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.siteRepo.Create(ctx, site); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "site created",
		slog.String("site_id", site.ID.String()),
		slog.String("domain", site.Domain),
	)

	return site, nil
}

// GetByID returns a site by its ID.
func (s *SiteService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Site, error) {
	site, err := s.siteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// GetByDomain returns the site serving the given domain. Inactive sites are
// still returned so admin tooling can inspect them; the auth flows reject
// them separately.
func (s *SiteService) GetByDomain(ctx context.Context, dom string) (*domain.Site, error) {
	dom = normalizeDomain(dom)
	if dom == "" {
		return nil, apperrors.InvalidInput("domain is required")
	}

	site, err := s.siteRepo.GetByDomain(ctx, dom)
	if err != nil {
		return nil, fmt.Errorf("get site by domain: %w", err)
	}
	return site, nil
}

// List returns all sites ordered by creation time.
func (s *SiteService) List(ctx context.Context) ([]domain.Site, error) {
	return s.siteRepo.List(ctx)
}

// Update applies a partial update to a site.
func (s *SiteService) Update(ctx context.Context, id uuid.UUID, update *domain.SiteUpdate) (*domain.Site, error) {
	if update.IsEmpty() {
		return nil, apperrors.InvalidInput("no fields to update")
	}
	if update.Domain != nil {
		dom := normalizeDomain(*update.Domain)
		if dom == "" {
			return nil, apperrors.InvalidInput("domain must not be empty")
		}
		update.Domain = &dom
	}
	if update.Name != nil && *update.Name == "" {
		return nil, apperrors.InvalidInput("name must not be empty")
	}

	site, err := s.siteRepo.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "site updated",
		slog.String("site_id", site.ID.String()),
	)

	return site, nil
}

func normalizeDomain(dom string) string {
	return strings.ToLower(strings.TrimSpace(dom))
}
