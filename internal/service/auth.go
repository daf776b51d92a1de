package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/email"
	"github.com/fernwood/siteauth/internal/ratelimit"
	"github.com/fernwood/siteauth/internal/repository"
	"github.com/fernwood/siteauth/internal/token"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// dummyHash is compared against when the account does not exist, so a login
// miss costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("siteauth.timing.equalizer"), bcryptCost)

var loginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

// Publisher emits auth lifecycle events. Failures are logged and never fail
// the triggering operation.
type Publisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishUserVerified(ctx context.Context, user *domain.User) error
	PublishPasswordReset(ctx context.Context, user *domain.User) error
	PublishEmailChanged(ctx context.Context, user *domain.User, oldEmail string) error
	PublishUserDeleted(ctx context.Context, user *domain.User) error
}

// Limiters groups the per-flow rate limiters. A nil limiter leaves that
// flow unthrottled.
type Limiters struct {
	Login *ratelimit.Limiter
	Reset *ratelimit.Limiter
}

// AuthConfig holds the policy switches of the auth flows.
type AuthConfig struct {
	// RequireVerifiedLogin rejects logins from accounts that have not
	// confirmed their email address.
	RequireVerifiedLogin bool
}

// AuthService implements registration, login and the token-driven account
// flows.
type AuthService struct {
	siteRepo repository.SiteRepository
	userRepo repository.UserRepository
	ledger   *token.Ledger
	mailer   email.Mailer
	producer Publisher
	limiters Limiters
	cfg      AuthConfig
	logger   *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	siteRepo repository.SiteRepository,
	userRepo repository.UserRepository,
	ledger *token.Ledger,
	mailer email.Mailer,
	producer Publisher,
	limiters Limiters,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		siteRepo: siteRepo,
		userRepo: userRepo,
		ledger:   ledger,
		mailer:   mailer,
		producer: producer,
		limiters: limiters,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	SiteID   uuid.UUID
	Email    string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	SiteID   uuid.UUID
	Email    string
	Password string
}

// Session is an authenticated session handed back by Login.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// Register creates an unverified account and mails the verification link.
// The unique index on (site, email) is the arbiter for concurrent
// registrations of the same address.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	addr := normalizeEmail(input.Email)
	if addr == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
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
		Role:         domain.RoleUser,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.sendVerification(ctx, site, user)

	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID.String()),
		slog.String("site_id", site.ID.String()),
	)

	return user, nil
}

// Login authenticates a user and issues a session token. All failure modes
// except rate limiting collapse into the same invalid-credentials error.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*Session, error) {
	addr := normalizeEmail(input.Email)
	if addr == "" || input.Password == "" {
		return nil, apperrors.InvalidCredentials()
	}

	limiterKey := input.SiteID.String() + ":" + addr
	allowed, err := s.limiters.Login.Allow(ctx, limiterKey)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		loginsTotal.WithLabelValues("throttled").Inc()
		return nil, apperrors.Unauthorized("too many login attempts, try again later")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.SiteID, addr)
	if err != nil {
		// Burn a compare anyway so misses and wrong passwords take the
		// same time.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(input.Password))
		loginsTotal.WithLabelValues("failure").Inc()
		return nil, apperrors.InvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		loginsTotal.WithLabelValues("failure").Inc()
		return nil, apperrors.InvalidCredentials()
	}

	if s.cfg.RequireVerifiedLogin && !user.Verified {
		return nil, apperrors.Unauthorized("email address not verified")
	}

	site, err := s.activeSite(ctx, user.SiteID)
	if err != nil {
		return nil, err
	}

	value, err := s.ledger.Issue(ctx, domain.TokenSession, site.ID, user.ID, token.Extra{})
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	s.limiters.Login.Reset(ctx, limiterKey)
	loginsTotal.WithLabelValues("success").Inc()

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID.String()),
		slog.String("site_id", site.ID.String()),
	)

	return &Session{
		User:      user,
		Token:     value,
		ExpiresAt: time.Now().UTC().Add(s.ledger.TTL(domain.TokenSession)),
	}, nil
}

// Authenticate resolves a session token to its user. Used by the session
// middleware on every authenticated request.
func (s *AuthService) Authenticate(ctx context.Context, sessionToken string) (*domain.User, error) {
	tok, err := s.ledger.Validate(ctx, domain.TokenSession, sessionToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TokenInvalid()
		}
		return nil, fmt.Errorf("get session user: %w", err)
	}
	return user, nil
}

// Logout retires the presented session token. Logging out an already-retired
// token succeeds: the end state is the same.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	_, err := s.ledger.Consume(ctx, domain.TokenSession, sessionToken)
	if err != nil && !errors.Is(err, apperrors.ErrTokenInvalid) {
		return err
	}
	return nil
}

// VerifyEmail consumes a verification token and marks its user verified.
func (s *AuthService) VerifyEmail(ctx context.Context, value string) (*domain.User, error) {
	tok, err := s.ledger.Consume(ctx, domain.TokenVerification, value)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, tok.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for verification: %w", err)
	}

	if !user.Verified {
		user.Verified = true
		if err := s.userRepo.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("mark user verified: %w", err)
		}

		if err := s.producer.PublishUserVerified(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.verified event",
				slog.String("user_id", user.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("user_id", user.ID.String()),
	)

	return user, nil
}

// CheckVerificationToken reports whether a verification token is live,
// without consuming it, and returns the address it would verify. Frontends
// call it to render the right page before the user clicks through.
func (s *AuthService) CheckVerificationToken(ctx context.Context, value string) (string, error) {
	tok, err := s.ledger.Validate(ctx, domain.TokenVerification, value)
	if err != nil {
		return "", err
	}

	user, err := s.userRepo.GetByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.TokenInvalid()
		}
		return "", fmt.Errorf("get user for verification check: %w", err)
	}

	return user.Email, nil
}

// RequestPasswordReset issues a reset token and mails it. Its outcome is
// identical whether or not the address has an account, so the endpoint
// cannot be used to probe for registered emails.
func (s *AuthService) RequestPasswordReset(ctx context.Context, siteID uuid.UUID, emailAddr string) error {
	addr := normalizeEmail(emailAddr)
	if addr == "" {
		return apperrors.InvalidInput("email is required")
	}

	allowed, err := s.limiters.Reset.Allow(ctx, siteID.String()+":"+addr)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return apperrors.Unauthorized("too many reset requests, try again later")
	}

	site, err := s.activeSite(ctx, siteID)
	if err != nil {
		return err
	}

	user, err := s.userRepo.GetByEmail(ctx, site.ID, addr)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("site_id", site.ID.String()),
			)
			return nil
		}
		return fmt.Errorf("get user for reset: %w", err)
	}

	// Outstanding reset tokens die when a new one is requested; only the
	// latest link works.
	if _, err := s.ledger.RevokeAllForUser(ctx, domain.TokenReset, user.ID); err != nil {
		return fmt.Errorf("revoke prior reset tokens: %w", err)
	}

	value, err := s.ledger.Issue(ctx, domain.TokenReset, site.ID, user.ID, token.Extra{})
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, site, user.Email, value); err != nil {
		s.logger.ErrorContext(ctx, "failed to send password reset email",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes
// every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, value, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	tok, err := s.ledger.Consume(ctx, domain.TokenReset, value)
	if err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, tok.UserID)
	if err != nil {
		return fmt.Errorf("get user for reset: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hashed)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.ledger.RevokeAllForUser(ctx, domain.TokenSession, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password reset",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishPasswordReset(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_reset event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ChangePassword replaces the password of an authenticated user after
// re-checking the current one. Every session is revoked and the caller gets
// a fresh one, so stolen tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, user *domain.User, currentPassword, newPassword string) (*Session, error) {
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return nil, apperrors.InvalidCredentials()
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hashed)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}

	if _, err := s.ledger.RevokeAllForUser(ctx, domain.TokenSession, user.ID); err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}

	value, err := s.ledger.Issue(ctx, domain.TokenSession, user.SiteID, user.ID, token.Extra{})
	if err != nil {
		return nil, fmt.Errorf("reissue session: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID.String()),
	)

	return &Session{
		User:      user,
		Token:     value,
		ExpiresAt: time.Now().UTC().Add(s.ledger.TTL(domain.TokenSession)),
	}, nil
}

// RequestEmailChange issues a change token and mails the confirmation link
// to the requested new address.
func (s *AuthService) RequestEmailChange(ctx context.Context, user *domain.User, newEmail, password string) error {
	addr := normalizeEmail(newEmail)
	if addr == "" {
		return apperrors.InvalidInput("new email is required")
	}
	if strings.EqualFold(addr, user.Email) {
		return apperrors.InvalidInput("new email matches the current address")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return apperrors.InvalidCredentials()
	}

	site, err := s.activeSite(ctx, user.SiteID)
	if err != nil {
		return err
	}

	// Early conflict check. The unique index still decides at confirm time.
	if _, err := s.userRepo.GetByEmail(ctx, site.ID, addr); err == nil {
		return apperrors.Conflict("email already registered for this site")
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check new email: %w", err)
	}

	if _, err := s.ledger.RevokeAllForUser(ctx, domain.TokenChange, user.ID); err != nil {
		return fmt.Errorf("revoke prior change tokens: %w", err)
	}

	value, err := s.ledger.Issue(ctx, domain.TokenChange, site.ID, user.ID, token.Extra{NewEmail: addr})
	if err != nil {
		return fmt.Errorf("issue change token: %w", err)
	}

	if err := s.mailer.SendEmailChange(ctx, site, addr, value); err != nil {
		s.logger.ErrorContext(ctx, "failed to send email change confirmation",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email change requested",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ConfirmEmailChange consumes a change token and moves the account to the
// new address.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, value string) (*domain.User, error) {
	tok, err := s.ledger.Consume(ctx, domain.TokenChange, value)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, tok.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for email change: %w", err)
	}

	oldEmail := user.Email
	user.Email = tok.NewEmail
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	if err := s.producer.PublishEmailChanged(ctx, user, oldEmail); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.email_changed event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email changed",
		slog.String("user_id", user.ID.String()),
	)

	return user, nil
}

// ResendVerification reissues the verification link for an unverified user.
// Already-verified users get a conflict.
func (s *AuthService) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user.Verified {
		return apperrors.Conflict("user is already verified")
	}

	site, err := s.activeSite(ctx, user.SiteID)
	if err != nil {
		return err
	}

	if _, err := s.ledger.RevokeAllForUser(ctx, domain.TokenVerification, user.ID); err != nil {
		return fmt.Errorf("revoke prior verification tokens: %w", err)
	}

	s.sendVerification(ctx, site, user)

	s.logger.InfoContext(ctx, "verification email resent",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// sendVerification issues a verification token and mails it. Mail failures
// are logged, not returned: the account exists either way and the link can
// be resent.
func (s *AuthService) sendVerification(ctx context.Context, site *domain.Site, user *domain.User) {
	value, err := s.ledger.Issue(ctx, domain.TokenVerification, site.ID, user.ID, token.Extra{})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue verification token",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.mailer.SendVerification(ctx, site, user.Email, value); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) activeSite(ctx context.Context, siteID uuid.UUID) (*domain.Site, error) {
	site, err := s.siteRepo.GetByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("site", siteID.String())
		}
		return nil, fmt.Errorf("get site: %w", err)
	}
	if !site.Active {
		return nil, apperrors.Forbidden("site is inactive")
	}
	return site, nil
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}

func normalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
