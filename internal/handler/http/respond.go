package http

import (
	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/service"
)

// userResponse is the wire shape of a user.
type userResponse struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		SiteID:    u.SiteID.String(),
		Email:     u.Email,
		Role:      u.Role,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt.Unix(),
		UpdatedAt: u.UpdatedAt.Unix(),
	}
}

func toUserResponses(users []domain.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	return out
}

// siteResponse is the wire shape of a site.
type siteResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Domain               string `json:"domain"`
	FrontendURL          string `json:"frontend_url"`
	VerificationRedirect string `json:"verification_redirect,omitempty"`
	EmailFrom            string `json:"email_from"`
	EmailFromName        string `json:"email_from_name"`
	Active               bool   `json:"active"`
	CreatedAt            int64  `json:"created_at"`
	UpdatedAt            int64  `json:"updated_at"`
}

func toSiteResponse(s *domain.Site) siteResponse {
	return siteResponse{
		ID:                   s.ID.String(),
		Name:                 s.Name,
		Domain:               s.Domain,
		FrontendURL:          s.FrontendURL,
		VerificationRedirect: s.VerificationRedirect,
		EmailFrom:            s.EmailFrom,
		EmailFromName:        s.EmailFromName,
		Active:               s.Active,
		CreatedAt:            s.CreatedAt.Unix(),
		UpdatedAt:            s.UpdatedAt.Unix(),
	}
}

// publicSiteResponse is the unauthenticated by-domain lookup shape. Email
// sender settings stay private.
type publicSiteResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Domain               string `json:"domain"`
	FrontendURL          string `json:"frontend_url"`
	VerificationRedirect string `json:"verification_redirect,omitempty"`
	Active               bool   `json:"active"`
}

func toPublicSiteResponse(s *domain.Site) publicSiteResponse {
	return publicSiteResponse{
		ID:                   s.ID.String(),
		Name:                 s.Name,
		Domain:               s.Domain,
		FrontendURL:          s.FrontendURL,
		VerificationRedirect: s.VerificationRedirect,
		Active:               s.Active,
	}
}

// sessionResponse is the wire shape of a login (or rotated) session.
type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
	User      userResponse `json:"user"`
}

func toSessionResponse(sess *service.Session) sessionResponse {
	return sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Unix(),
		User:      toUserResponse(sess.User),
	}
}
