package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// CreateUserInput holds the parameters for provisioning a user through the
// admin surface.
type CreateUserInput struct {
	SiteID   uuid.UUID
	Email    string
	Password string
	Role     string
	Verified bool
}

// AdminCreateUser provisions a user directly. Verified accounts skip the
// verification mail; unverified ones get the standard link.
func (s *AuthService) AdminCreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	addr := normalizeEmail(input.Email)
	if addr == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	role := input.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !domain.ValidRole(role) {
		return nil, apperrors.InvalidInput("role must be user or admin")
	}

	site, err := s.activeSite(ctx, input.SiteID)
	if err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		SiteID:       site.ID,
		Email:        addr,
		PasswordHash: string(hashed),
		Role:         role,
		Verified:     input.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	if !user.Verified {
		s.sendVerification(ctx, site, user)
	}

	s.logger.InfoContext(ctx, "user created by admin",
		slog.String("user_id", user.ID.String()),
		slog.String("site_id", site.ID.String()),
		slog.String("role", user.Role),
	)

	return user, nil
}

// GetUser returns a user by ID.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users of a site.
func (s *AuthService) ListUsers(ctx context.Context, siteID uuid.UUID) ([]domain.User, error) {
	if _, err := s.siteRepo.GetByID(ctx, siteID); err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return s.userRepo.ListBySite(ctx, siteID)
}

// DeleteUser removes a user and all their tokens.
func (s *AuthService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	// Token rows go with the user via cascading deletes in postgres; the
	// memory store needs the explicit sweep either way.
	for _, kind := range []domain.TokenKind{domain.TokenSession, domain.TokenVerification, domain.TokenReset, domain.TokenChange} {
		if _, err := s.ledger.RevokeAllForUser(ctx, kind, user.ID); err != nil {
			return fmt.Errorf("revoke %s tokens: %w", kind, err)
		}
	}

	if err := s.userRepo.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.producer.PublishUserDeleted(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}
