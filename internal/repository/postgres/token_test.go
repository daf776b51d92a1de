package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

func newTokenTestFixture(t *testing.T) (*TokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewTokenRepository(mock)
	return repo, mock
}

func sampleToken(kind domain.TokenKind) *domain.Token {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Token{
		ID:        uuid.New(),
		SiteID:    uuid.New(),
		UserID:    uuid.New(),
		Kind:      kind,
		Token:     "opaque-token-value",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestTokenRepository_Insert_Session(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken(domain.TokenSession)

	mock.ExpectExec("INSERT INTO auth_tokens").
		WithArgs(tok.ID, tok.SiteID, tok.UserID, tok.Token, tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), tok))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Insert_ChangeCarriesNewEmail(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken(domain.TokenChange)
	tok.NewEmail = "new@example.com"

	mock.ExpectExec("INSERT INTO email_change_requests").
		WithArgs(tok.ID, tok.SiteID, tok.UserID, tok.Token, tok.NewEmail, tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), tok))
}

func TestTokenRepository_Insert_UnknownKind(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken("refresh")
	assert.Error(t, repo.Insert(context.Background(), tok))
}

func TestTokenRepository_GetByValue_Verification(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken(domain.TokenVerification)

	rows := pgxmock.NewRows([]string{"id", "site_id", "user_id", "token", "expires_at", "created_at"}).
		AddRow(tok.ID, tok.SiteID, tok.UserID, tok.Token, tok.ExpiresAt, tok.CreatedAt)

	mock.ExpectQuery("SELECT .+ FROM email_verification_tokens WHERE token = \\$1 AND expires_at > \\$2").
		WithArgs(tok.Token, pgxmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.GetByValue(context.Background(), domain.TokenVerification, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.UserID, got.UserID)
	assert.Equal(t, domain.TokenVerification, got.Kind)
}

func TestTokenRepository_GetByValue_ResetExcludesUsed(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM password_reset_tokens WHERE token = \\$1 AND expires_at > \\$2 AND used = FALSE").
		WithArgs("some-token", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "user_id", "token", "used", "expires_at", "created_at"}))

	_, err := repo.GetByValue(context.Background(), domain.TokenReset, "some-token")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTokenRepository_Consume_DeletesSessionToken(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken(domain.TokenSession)

	rows := pgxmock.NewRows([]string{"id", "site_id", "user_id", "token", "expires_at", "created_at"}).
		AddRow(tok.ID, tok.SiteID, tok.UserID, tok.Token, tok.ExpiresAt, tok.CreatedAt)

	mock.ExpectQuery("DELETE FROM auth_tokens WHERE token = \\$1 AND expires_at > \\$2 RETURNING").
		WithArgs(tok.Token, pgxmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.Consume(context.Background(), domain.TokenSession, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
}

func TestTokenRepository_Consume_ResetFlipsUsedFlag(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken(domain.TokenReset)
	tok.Used = true

	rows := pgxmock.NewRows([]string{"id", "site_id", "user_id", "token", "used", "expires_at", "created_at"}).
		AddRow(tok.ID, tok.SiteID, tok.UserID, tok.Token, tok.Used, tok.ExpiresAt, tok.CreatedAt)

	mock.ExpectQuery("UPDATE password_reset_tokens SET used = TRUE WHERE token = \\$1 AND used = FALSE AND expires_at > \\$2 RETURNING").
		WithArgs(tok.Token, pgxmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.Consume(context.Background(), domain.TokenReset, tok.Token)
	require.NoError(t, err)
	assert.True(t, got.Used)
}

func TestTokenRepository_Consume_MissesReturnNotFound(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("DELETE FROM email_verification_tokens").
		WithArgs("gone", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "user_id", "token", "expires_at", "created_at"}))

	_, err := repo.Consume(context.Background(), domain.TokenVerification, "gone")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTokenRepository_DeleteForUser(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	userID := uuid.New()

	mock.ExpectExec("DELETE FROM auth_tokens WHERE user_id = \\$1").
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteForUser(context.Background(), domain.TokenSession, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTokenRepository_PurgeExpired(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	cutoff := time.Now().UTC()

	mock.ExpectExec("DELETE FROM email_verification_tokens WHERE expires_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := repo.PurgeExpired(context.Background(), domain.TokenVerification, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	mock.ExpectExec("DELETE FROM password_reset_tokens WHERE expires_at < \\$1 OR \\(used = TRUE AND created_at < \\$1\\)").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err = repo.PurgeExpired(context.Background(), domain.TokenReset, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
