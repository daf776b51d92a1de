package http

import (
	"log/slog"
	"net/http"

	apperrors "github.com/fernwood/siteauth/pkg/errors"
	"github.com/fernwood/siteauth/pkg/httputil"

	"github.com/fernwood/siteauth/internal/service"
)

// SiteHandler handles the public site lookup endpoint.
type SiteHandler struct {
	service *service.SiteService
	logger  *slog.Logger
}

// NewSiteHandler creates a new site HTTP handler.
func NewSiteHandler(svc *service.SiteService, logger *slog.Logger) *SiteHandler {
	return &SiteHandler{service: svc, logger: logger}
}

// GetByDomain handles GET /api/v1/sites/by-domain?domain=example.com
//
// Frontends use this to discover the site they belong to. The response
// omits email sender settings.
func (h *SiteHandler) GetByDomain(w http.ResponseWriter, r *http.Request) {
	dom := r.URL.Query().Get("domain")
	if dom == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("domain query parameter is required"))
		return
	}

	site, err := h.service.GetByDomain(r.Context(), dom)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toPublicSiteResponse(site)})
}
