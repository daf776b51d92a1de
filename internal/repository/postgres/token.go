package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// tokenTable describes the physical shape of one token ledger.
type tokenTable struct {
	name string
	// hasNewEmail marks the email-change ledger which carries the pending
	// address alongside the token.
	hasNewEmail bool
	// softConsume marks ledgers where consumption flips a used flag instead
	// of deleting the row.
	softConsume bool
}

var tokenTables = map[domain.TokenKind]tokenTable{
	domain.TokenSession:      {name: "auth_tokens"},
	domain.TokenVerification: {name: "email_verification_tokens"},
	domain.TokenReset:        {name: "password_reset_tokens", softConsume: true},
	domain.TokenChange:       {name: "email_change_requests", hasNewEmail: true},
}

func (t tokenTable) columns() string {
	cols := "id, site_id, user_id, token"
	if t.hasNewEmail {
		cols += ", new_email"
	}
	if t.softConsume {
		cols += ", used"
	}
	return cols + ", expires_at, created_at"
}

// TokenRepository implements repository.TokenRepository across the four
// ledger tables.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new PostgreSQL-backed token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a new token row in the ledger for its kind.
func (r *TokenRepository) Insert(ctx context.Context, tok *domain.Token) error {
	table, err := tableFor(tok.Kind)
	if err != nil {
		return err
	}

	args := []any{tok.ID, tok.SiteID, tok.UserID, tok.Token}
	if table.hasNewEmail {
		args = append(args, tok.NewEmail)
	}
	args = append(args, tok.ExpiresAt, tok.CreatedAt)

	placeholders := "$1, $2, $3, $4, $5, $6"
	cols := "id, site_id, user_id, token, expires_at, created_at"
	if table.hasNewEmail {
		placeholders += ", $7"
		cols = "id, site_id, user_id, token, new_email, expires_at, created_at"
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table.name, cols, placeholders)
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("token value collision")
		}
		return storeErr(fmt.Sprintf("insert %s token", tok.Kind), err)
	}

	return nil
}

// GetByValue retrieves a live token row by its opaque value.
func (r *TokenRepository) GetByValue(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE token = $1 AND expires_at > $2`, table.columns(), table.name)
	if table.softConsume {
		query += ` AND used = FALSE`
	}

	return r.scanToken(table, kind, r.db.QueryRow(ctx, query, value, time.Now().UTC()))
}

// Consume atomically retires a live token and returns the retired row.
// Deletion (or the used-flag update) and the liveness check happen in one
// statement, so concurrent consumers cannot both succeed.
func (r *TokenRepository) Consume(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var query string
	if table.softConsume {
		query = fmt.Sprintf(
			`UPDATE %s SET used = TRUE WHERE token = $1 AND used = FALSE AND expires_at > $2 RETURNING %s`,
			table.name, table.columns(),
		)
	} else {
		query = fmt.Sprintf(
			`DELETE FROM %s WHERE token = $1 AND expires_at > $2 RETURNING %s`,
			table.name, table.columns(),
		)
	}

	return r.scanToken(table, kind, r.db.QueryRow(ctx, query, value, time.Now().UTC()))
}

// DeleteForUser removes all of a user's tokens of the given kind.
func (r *TokenRepository) DeleteForUser(ctx context.Context, kind domain.TokenKind, userID uuid.UUID) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	ct, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table.name), userID)
	if err != nil {
		return 0, storeErr(fmt.Sprintf("delete %s tokens", kind), err)
	}

	return ct.RowsAffected(), nil
}

// PurgeExpired removes rows expired before the cutoff. Consumed reset tokens
// older than the cutoff are purged too, ending their audit retention.
func (r *TokenRepository) PurgeExpired(ctx context.Context, kind domain.TokenKind, cutoff time.Time) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, table.name)
	if table.softConsume {
		query = fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1 OR (used = TRUE AND created_at < $1)`, table.name)
	}

	ct, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, storeErr(fmt.Sprintf("purge %s tokens", kind), err)
	}

	return ct.RowsAffected(), nil
}

func (r *TokenRepository) scanToken(table tokenTable, kind domain.TokenKind, row pgx.Row) (*domain.Token, error) {
	var tok domain.Token
	tok.Kind = kind

	dest := []any{&tok.ID, &tok.SiteID, &tok.UserID, &tok.Token}
	if table.hasNewEmail {
		dest = append(dest, &tok.NewEmail)
	}
	if table.softConsume {
		dest = append(dest, &tok.Used)
	}
	dest = append(dest, &tok.ExpiresAt, &tok.CreatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr(fmt.Sprintf("scan %s token", kind), err)
	}

	return &tok, nil
}

func tableFor(kind domain.TokenKind) (tokenTable, error) {
	table, ok := tokenTables[kind]
	if !ok {
		return tokenTable{}, fmt.Errorf("unknown token kind %q", kind)
	}
	return table, nil
}
