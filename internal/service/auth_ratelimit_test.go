package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/ratelimit"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// withLimiters rebuilds the fixture's auth service with Redis-backed rate
// limiters allowing the given number of attempts per window.
func withLimiters(t *testing.T, f *authFixture, limit int) *AuthService {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiters := Limiters{
		Login: ratelimit.New(client, "login", limit, 15*time.Minute, log),
		Reset: ratelimit.New(client, "reset", limit, 15*time.Minute, log),
	}
	return NewAuthService(f.sites, f.users, f.ledger, f.mailer, f.events, limiters, AuthConfig{}, log)
}

func TestLoginRateLimited(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	f.register(t, "alice@example.com")
	svc := withLimiters(t, f, 3)

	in := LoginInput{SiteID: f.site.ID, Email: "alice@example.com", Password: "Wr0ngPassword"}
	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), in)
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	// The fourth attempt is throttled even with the right password.
	_, err := svc.Login(context.Background(), LoginInput{
		SiteID: f.site.ID, Email: "alice@example.com", Password: goodPassword,
	})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestLoginRateLimitResetOnSuccess(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	f.register(t, "alice@example.com")
	svc := withLimiters(t, f, 3)

	in := LoginInput{SiteID: f.site.ID, Email: "alice@example.com", Password: "Wr0ngPassword"}
	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), in)
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	// A successful login clears the window.
	_, err := svc.Login(context.Background(), LoginInput{
		SiteID: f.site.ID, Email: "alice@example.com", Password: goodPassword,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), in)
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}
}

func TestLoginRateLimitKeyedPerAccount(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	f.register(t, "alice@example.com")
	f.register(t, "bob@example.com")
	svc := withLimiters(t, f, 2)

	for i := 0; i < 3; i++ {
		_, _ = svc.Login(context.Background(), LoginInput{
			SiteID: f.site.ID, Email: "alice@example.com", Password: "Wr0ngPassword",
		})
	}

	// Bob's account is unaffected by Alice's failures.
	_, err := svc.Login(context.Background(), LoginInput{
		SiteID: f.site.ID, Email: "bob@example.com", Password: goodPassword,
	})
	require.NoError(t, err)
}

func TestPasswordResetRequestRateLimited(t *testing.T) {
	f := newAuthFixture(t, AuthConfig{})
	f.register(t, "alice@example.com")
	svc := withLimiters(t, f, 2)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.RequestPasswordReset(context.Background(), f.site.ID, "alice@example.com"))
	}

	err := svc.RequestPasswordReset(context.Background(), f.site.ID, "alice@example.com")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
