package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/repository/memory"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

func newSiteService() *SiteService {
	return NewSiteService(memory.NewSiteRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSiteCreateNormalizesDomain(t *testing.T) {
	svc := newSiteService()

	site, err := svc.Create(context.Background(), CreateSiteInput{
		Name:   "Blog",
		Domain: "  Blog.Example.COM ",
	})
	require.NoError(t, err)
	assert.Equal(t, "blog.example.com", site.Domain)
	assert.True(t, site.Active)
}

func TestSiteCreateValidation(t *testing.T) {
	svc := newSiteService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSiteInput{Domain: "x.example.com"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Create(ctx, CreateSiteInput{Name: "No Domain"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSiteCreateDuplicateDomain(t *testing.T) {
	svc := newSiteService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSiteInput{Name: "A", Domain: "a.example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateSiteInput{Name: "B", Domain: "A.EXAMPLE.COM"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSiteGetByDomain(t *testing.T) {
	svc := newSiteService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateSiteInput{Name: "Blog", Domain: "blog.example.com"})
	require.NoError(t, err)

	got, err := svc.GetByDomain(ctx, "BLOG.example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.GetByDomain(ctx, "missing.example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.GetByDomain(ctx, "  ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSiteUpdate(t *testing.T) {
	svc := newSiteService()
	ctx := context.Background()

	site, err := svc.Create(ctx, CreateSiteInput{Name: "Blog", Domain: "blog.example.com"})
	require.NoError(t, err)

	name := "Renamed"
	dom := "NEW.Example.com"
	updated, err := svc.Update(ctx, site.ID, &domain.SiteUpdate{Name: &name, Domain: &dom})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "new.example.com", updated.Domain)

	_, err = svc.Update(ctx, site.ID, &domain.SiteUpdate{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	empty := ""
	_, err = svc.Update(ctx, site.ID, &domain.SiteUpdate{Name: &empty})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Update(ctx, uuid.New(), &domain.SiteUpdate{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSiteList(t *testing.T) {
	svc := newSiteService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateSiteInput{Name: "A", Domain: "a.example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateSiteInput{Name: "B", Domain: "b.example.com"})
	require.NoError(t, err)

	sites, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sites, 2)
}
