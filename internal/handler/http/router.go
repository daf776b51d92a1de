package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/pkg/health"
	"github.com/fernwood/siteauth/pkg/middleware"
)

// RouterConfig carries the router-level settings.
type RouterConfig struct {
	MasterKey      string
	AllowedOrigins []string
	Environment    string
}

// NewRouter creates a chi router with all routes registered.
func NewRouter(
	authService *service.AuthService,
	siteService *service.SiteService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(CORSConfig{AllowedOrigins: cfg.AllowedOrigins, Environment: cfg.Environment}))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("siteauth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(authService, logger)
	accountHandler := NewAccountHandler(authService, logger)
	siteHandler := NewSiteHandler(siteService, logger)
	adminHandler := NewAdminHandler(siteService, authService, logger)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public endpoints; everything token-driven arrives here.
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/check-verification-token", authHandler.CheckVerificationToken)
		r.Post("/request-password-reset", authHandler.RequestPasswordReset)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/confirm-email-change", accountHandler.ConfirmEmailChange)

		// Session-scoped endpoints.
		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(authService))

			r.Get("/me", accountHandler.Me)
			r.Post("/logout", accountHandler.Logout)
			r.Post("/change-password", accountHandler.ChangePassword)
			r.Post("/request-email-change", accountHandler.RequestEmailChange)
		})
	})

	r.Route("/api/v1/sites", func(r chi.Router) {
		r.Get("/by-domain", siteHandler.GetByDomain)
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(MasterKeyAuth(cfg.MasterKey))

		r.Post("/sites", adminHandler.CreateSite)
		r.Get("/sites", adminHandler.ListSites)
		r.Get("/sites/{id}", adminHandler.GetSite)
		r.Patch("/sites/{id}", adminHandler.UpdateSite)
		r.Get("/sites/{id}/users", adminHandler.ListSiteUsers)

		r.Post("/users", adminHandler.CreateUser)
		r.Delete("/users/{id}", adminHandler.DeleteUser)
		r.Post("/users/{id}/resend-verification", adminHandler.ResendVerification)
	})

	return r
}
