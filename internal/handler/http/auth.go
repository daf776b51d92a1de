package http

import (
	"log/slog"
	"net/http"

	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/pkg/httputil"
	"github.com/fernwood/siteauth/pkg/validator"
)

// AuthHandler handles the public auth endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	SiteID   string `json:"site_id" validate:"required,uuid4"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	SiteID   string `json:"site_id" validate:"required,uuid4"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenRequest is the JSON request body for endpoints that take a bare token.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// PasswordResetRequest is the JSON request body for requesting a reset link.
type PasswordResetRequest struct {
	SiteID string `json:"site_id" validate:"required,uuid4"`
	Email  string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for completing a reset.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	siteID, ok := httputil.ParseUUID(w, req.SiteID)
	if !ok {
		return
	}

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		SiteID:   siteID,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: toUserResponse(user)})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	siteID, ok := httputil.ParseUUID(w, req.SiteID)
	if !ok {
		return
	}

	sess, err := h.service.Login(r.Context(), service.LoginInput{
		SiteID:   siteID,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toSessionResponse(sess)})
}

// VerifyEmail handles POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toUserResponse(user)})
}

// CheckVerificationToken handles POST /api/v1/auth/check-verification-token
func (h *AuthHandler) CheckVerificationToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	emailAddr, err := h.service.CheckVerificationToken(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"valid": true,
		"email": emailAddr,
	}})
}

// RequestPasswordReset handles POST /api/v1/auth/request-password-reset
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	siteID, ok := httputil.ParseUUID(w, req.SiteID)
	if !ok {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), siteID, req.Email); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	// The response never reveals whether the address has an account.
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "ok"},
	})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "password reset"}})
}
