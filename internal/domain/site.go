// Package domain holds the core entities of the authentication service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Site is a tenant: one frontend served from its own domain, with its own
// user population and email branding.
type Site struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Domain               string    `json:"domain"`
	FrontendURL          string    `json:"frontend_url"`
	VerificationRedirect string    `json:"verification_redirect,omitempty"`
	EmailFrom            string    `json:"email_from"`
	EmailFromName        string    `json:"email_from_name"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// VerificationURL returns the page the verification email should link to:
// the site's explicit verification redirect when set, otherwise the frontend
// URL.
func (s *Site) VerificationURL() string {
	if s.VerificationRedirect != "" {
		return s.VerificationRedirect
	}
	return s.FrontendURL
}

// SiteUpdate carries a partial update of a site's mutable fields. Nil fields
// are left unchanged.
type SiteUpdate struct {
	Name                 *string `json:"name,omitempty"`
	Domain               *string `json:"domain,omitempty"`
	FrontendURL          *string `json:"frontend_url,omitempty"`
	VerificationRedirect *string `json:"verification_redirect,omitempty"`
	EmailFrom            *string `json:"email_from,omitempty"`
	EmailFromName        *string `json:"email_from_name,omitempty"`
	Active               *bool   `json:"active,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u *SiteUpdate) IsEmpty() bool {
	return u.Name == nil && u.Domain == nil && u.FrontendURL == nil &&
		u.VerificationRedirect == nil && u.EmailFrom == nil &&
		u.EmailFromName == nil && u.Active == nil
}
