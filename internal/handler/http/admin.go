package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/pkg/httputil"
	"github.com/fernwood/siteauth/pkg/validator"
)

// AdminHandler handles the master-key administrative surface.
type AdminHandler struct {
	sites  *service.SiteService
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(sites *service.SiteService, auth *service.AuthService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sites: sites, auth: auth, logger: logger}
}

// CreateSiteRequest is the JSON request body for provisioning a site.
type CreateSiteRequest struct {
	Name                 string `json:"name" validate:"required"`
	Domain               string `json:"domain" validate:"required,fqdn"`
	FrontendURL          string `json:"frontend_url" validate:"required,url"`
	VerificationRedirect string `json:"verification_redirect" validate:"omitempty,url"`
	EmailFrom            string `json:"email_from" validate:"omitempty,email"`
	EmailFromName        string `json:"email_from_name"`
}

// UpdateSiteRequest is the JSON request body for a partial site update.
type UpdateSiteRequest struct {
	Name                 *string `json:"name" validate:"omitempty,min=1"`
	Domain               *string `json:"domain" validate:"omitempty,fqdn"`
	FrontendURL          *string `json:"frontend_url" validate:"omitempty,url"`
	VerificationRedirect *string `json:"verification_redirect" validate:"omitempty,url"`
	EmailFrom            *string `json:"email_from" validate:"omitempty,email"`
	EmailFromName        *string `json:"email_from_name"`
	Active               *bool   `json:"active"`
}

// CreateUserRequest is the JSON request body for provisioning a user.
type CreateUserRequest struct {
	SiteID   string `json:"site_id" validate:"required,uuid4"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
	Verified bool   `json:"verified"`
}

// CreateSite handles POST /api/v1/admin/sites
func (h *AdminHandler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req CreateSiteRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	site, err := h.sites.Create(r.Context(), service.CreateSiteInput{
		Name:                 req.Name,
		Domain:               req.Domain,
		FrontendURL:          req.FrontendURL,
		VerificationRedirect: req.VerificationRedirect,
		EmailFrom:            req.EmailFrom,
		EmailFromName:        req.EmailFromName,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toSiteResponse(site)})
}

// ListSites handles GET /api/v1/admin/sites
func (h *AdminHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.sites.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	out := make([]siteResponse, 0, len(sites))
	for i := range sites {
		out = append(out, toSiteResponse(&sites[i]))
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}

// GetSite handles GET /api/v1/admin/sites/{id}
func (h *AdminHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	site, err := h.sites.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toSiteResponse(site)})
}

// UpdateSite handles PATCH /api/v1/admin/sites/{id}
func (h *AdminHandler) UpdateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateSiteRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	site, err := h.sites.Update(r.Context(), id, &domain.SiteUpdate{
		Name:                 req.Name,
		Domain:               req.Domain,
		FrontendURL:          req.FrontendURL,
		VerificationRedirect: req.VerificationRedirect,
		EmailFrom:            req.EmailFrom,
		EmailFromName:        req.EmailFromName,
		Active:               req.Active,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toSiteResponse(site)})
}

// ListSiteUsers handles GET /api/v1/admin/sites/{id}/users
func (h *AdminHandler) ListSiteUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	users, err := h.auth.ListUsers(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toUserResponses(users)})
}

// CreateUser handles POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	siteID, ok := httputil.ParseUUID(w, req.SiteID)
	if !ok {
		return
	}

	user, err := h.auth.AdminCreateUser(r.Context(), service.CreateUserInput{
		SiteID:   siteID,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Verified: req.Verified,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toUserResponse(user)})
}

// DeleteUser handles DELETE /api/v1/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.auth.DeleteUser(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResendVerification handles POST /api/v1/admin/users/{id}/resend-verification
func (h *AdminHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.auth.ResendVerification(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "verification sent"}})
}
