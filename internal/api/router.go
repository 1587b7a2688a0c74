package api

import (
	"net/http"

	"github.com/dom/school-portal/internal/api/handlers"
	"github.com/dom/school-portal/internal/api/middleware"
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/config"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/oauth"
	"github.com/dom/school-portal/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(
	services *service.Services,
	issuer *auth.Issuer,
	providers *oauth.Registry,
	cfg *config.Config,
	logger *logrus.Logger,
	m *metrics.Metrics,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.FrontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", m.Handler())

	cookies := handlers.CookieConfig{
		Domain:        cfg.CookieDomain,
		Secure:        cfg.IsProduction(),
		AccessMaxAge:  services.Auth.AccessTokenTTL(),
		RefreshMaxAge: services.Auth.RefreshTokenTTL(),
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(services.Auth, cookies, logger)
	oauthHandler := handlers.NewOAuthHandler(services.Auth, providers, issuer, cookies, cfg.OAuthSuccessURL, cfg.OAuthErrorURL, logger)
	userHandler := handlers.NewUserHandler(services.User, logger)

	authenticate := middleware.Authenticate(issuer, logger)
	requireActive := middleware.RequireActive(services.Auth, logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)

			r.Get("/oauth/{provider}", oauthHandler.Begin)
			r.Get("/oauth/{provider}/callback", oauthHandler.Callback)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Use(requireActive)
				r.Get("/me", authHandler.Me)
				r.Get("/permissions", authHandler.Permissions)
			})
		})

		// Admin user management
		r.Route("/users", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequirePermission(domain.PermManageUsers))
			r.Use(requireActive)

			r.Get("/", userHandler.List)
			r.Get("/{id}", userHandler.Get)
			r.Patch("/{id}/role", userHandler.ChangeRole)
			r.Post("/{id}/suspend", userHandler.Suspend)
			r.Post("/{id}/reinstate", userHandler.Reinstate)
			r.Delete("/{id}", userHandler.Delete)
		})
	})

	return r
}
