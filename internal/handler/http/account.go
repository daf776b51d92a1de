package http

import (
	"log/slog"
	"net/http"

	apperrors "github.com/fernwood/siteauth/pkg/errors"
	"github.com/fernwood/siteauth/pkg/httputil"
	"github.com/fernwood/siteauth/pkg/validator"

	"github.com/fernwood/siteauth/internal/service"
)

// AccountHandler handles endpoints that act on the authenticated user.
type AccountHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(svc *service.AuthService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{service: svc, logger: logger}
}

// ChangePasswordRequest is the JSON request body for rotating a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// EmailChangeRequest is the JSON request body for starting an email change.
type EmailChangeRequest struct {
	NewEmail string `json:"new_email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Me handles GET /api/v1/auth/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toUserResponse(user)})
}

// Logout handles POST /api/v1/auth/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := SessionTokenFromContext(r.Context())
	if token == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("no session"))
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "logged out"}})
}

// ChangePassword handles POST /api/v1/auth/change-password
//
// All other sessions are revoked; the response carries a fresh session so
// the caller is not logged out by its own request.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	sess, err := h.service.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toSessionResponse(sess)})
}

// RequestEmailChange handles POST /api/v1/auth/request-email-change
func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"))
		return
	}

	var req EmailChangeRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.RequestEmailChange(r.Context(), user, req.NewEmail, req.Password); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "confirmation sent"}})
}

// ConfirmEmailChange handles POST /api/v1/auth/confirm-email-change
//
// The token arrives out of band at the new address, so this endpoint does
// not require a session.
func (h *AccountHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.service.ConfirmEmailChange(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toUserResponse(user)})
}
