package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind distinguishes the four token ledgers.
type TokenKind string

const (
	// TokenSession authenticates API requests until logout or expiry.
	TokenSession TokenKind = "session"
	// TokenVerification proves ownership of the registration email address.
	TokenVerification TokenKind = "verification"
	// TokenReset authorizes a one-time password reset.
	TokenReset TokenKind = "reset"
	// TokenChange confirms an email address change from the new address.
	TokenChange TokenKind = "change"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenSession, TokenVerification, TokenReset, TokenChange:
		return true
	}
	return false
}

func (k TokenKind) String() string { return string(k) }

// Token is one row of a token ledger. NewEmail is set only for change
// tokens; Used is meaningful only for reset tokens, which are retained
// after consumption for audit.
type Token struct {
	ID        uuid.UUID `json:"id"`
	SiteID    uuid.UUID `json:"site_id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      TokenKind `json:"kind"`
	Token     string    `json:"-"`
	NewEmail  string    `json:"new_email,omitempty"`
	Used      bool      `json:"used,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token's lifetime has elapsed at the given
// instant. A token expiring exactly now is expired.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
