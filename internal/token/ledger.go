// Package token issues and retires the opaque tokens backing sessions, email
// verification, password resets and email changes.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/repository"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// tokenBytes is the entropy of a token value. 32 random bytes encode to a
// 43-character URL-safe string.
const tokenBytes = 32

// TTLs holds the lifetime of each token kind.
type TTLs struct {
	Session      time.Duration
	Verification time.Duration
	Reset        time.Duration
	Change       time.Duration
}

// DefaultTTLs returns the standard token lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		Session:      time.Hour,
		Verification: 24 * time.Hour,
		Reset:        time.Hour,
		Change:       time.Hour,
	}
}

func (t TTLs) forKind(kind domain.TokenKind) time.Duration {
	switch kind {
	case domain.TokenSession:
		return t.Session
	case domain.TokenVerification:
		return t.Verification
	case domain.TokenReset:
		return t.Reset
	case domain.TokenChange:
		return t.Change
	}
	return 0
}

var (
	tokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued by kind",
		},
		[]string{"kind"},
	)

	tokensConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_consumed_total",
			Help: "Total number of tokens consumed by kind",
		},
		[]string{"kind"},
	)

	tokensRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_rejected_total",
			Help: "Total number of token validations rejected by kind",
		},
		[]string{"kind"},
	)

	tokensPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_purged_total",
			Help: "Total number of expired tokens purged by kind",
		},
		[]string{"kind"},
	)
)

// Ledger issues, validates and retires tokens against a TokenRepository.
type Ledger struct {
	repo repository.TokenRepository
	ttls TTLs
}

// NewLedger creates a token ledger with the given per-kind lifetimes.
func NewLedger(repo repository.TokenRepository, ttls TTLs) *Ledger {
	return &Ledger{repo: repo, ttls: ttls}
}

// TTL returns the configured lifetime for the given kind.
func (l *Ledger) TTL(kind domain.TokenKind) time.Duration {
	return l.ttls.forKind(kind)
}

// Extra carries kind-specific payload for Issue.
type Extra struct {
	// NewEmail is required for change tokens and ignored otherwise.
	NewEmail string
}

// Issue mints a fresh token of the given kind and returns its opaque value.
// The value never appears in logs; callers deliver it to the user by email
// or response body.
func (l *Ledger) Issue(ctx context.Context, kind domain.TokenKind, siteID, userID uuid.UUID, extra Extra) (string, error) {
	ttl := l.ttls.forKind(kind)
	if ttl <= 0 {
		return "", fmt.Errorf("no TTL configured for token kind %q", kind)
	}
	if kind == domain.TokenChange && extra.NewEmail == "" {
		return "", apperrors.InvalidInput("change token requires a new email address")
	}

	value, err := generateValue()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	now := time.Now().UTC()
	tok := &domain.Token{
		ID:        uuid.New(),
		SiteID:    siteID,
		UserID:    userID,
		Kind:      kind,
		Token:     value,
		NewEmail:  extra.NewEmail,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if err := l.repo.Insert(ctx, tok); err != nil {
		return "", err
	}

	tokensIssuedTotal.WithLabelValues(kind.String()).Inc()
	return value, nil
}

// Validate looks up a live token without retiring it. Unknown, expired and
// used values all come back as ErrTokenInvalid; callers cannot distinguish
// them and neither can an attacker.
func (l *Ledger) Validate(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	if value == "" {
		tokensRejectedTotal.WithLabelValues(kind.String()).Inc()
		return nil, apperrors.TokenInvalid()
	}

	tok, err := l.repo.GetByValue(ctx, kind, value)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			tokensRejectedTotal.WithLabelValues(kind.String()).Inc()
			return nil, apperrors.TokenInvalid()
		}
		return nil, err
	}
	return tok, nil
}

// Consume atomically retires a live token and returns its row. Exactly one
// of any number of concurrent Consume calls for the same value succeeds.
func (l *Ledger) Consume(ctx context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	if value == "" {
		tokensRejectedTotal.WithLabelValues(kind.String()).Inc()
		return nil, apperrors.TokenInvalid()
	}

	tok, err := l.repo.Consume(ctx, kind, value)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			tokensRejectedTotal.WithLabelValues(kind.String()).Inc()
			return nil, apperrors.TokenInvalid()
		}
		return nil, err
	}

	tokensConsumedTotal.WithLabelValues(kind.String()).Inc()
	return tok, nil
}

// RevokeAllForUser deletes every token of the given kind held by the user.
func (l *Ledger) RevokeAllForUser(ctx context.Context, kind domain.TokenKind, userID uuid.UUID) (int64, error) {
	return l.repo.DeleteForUser(ctx, kind, userID)
}

// PurgeExpired removes expired rows from every ledger. Reset rows consumed
// before the retention cutoff are removed as well. It returns the total
// number of rows purged.
func (l *Ledger) PurgeExpired(ctx context.Context, resetRetention time.Duration) (int64, error) {
	now := time.Now().UTC()
	var total int64

	for _, kind := range []domain.TokenKind{domain.TokenSession, domain.TokenVerification, domain.TokenChange} {
		n, err := l.repo.PurgeExpired(ctx, kind, now)
		if err != nil {
			return total, fmt.Errorf("purge %s tokens: %w", kind, err)
		}
		tokensPurgedTotal.WithLabelValues(kind.String()).Add(float64(n))
		total += n
	}

	n, err := l.repo.PurgeExpired(ctx, domain.TokenReset, now.Add(-resetRetention))
	if err != nil {
		return total, fmt.Errorf("purge reset tokens: %w", err)
	}
	tokensPurgedTotal.WithLabelValues(domain.TokenReset.String()).Add(float64(n))
	total += n

	return total, nil
}

func generateValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
