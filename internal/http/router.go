package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gatehouse/internal/activity"
	"gatehouse/internal/admin"
	"gatehouse/internal/config"
	"gatehouse/internal/identity"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/tabs"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	Identity *identity.Service
	Admin    *admin.Service
	Registry *tabs.Registry
	Policy   activity.Policy
	Limiter  *ratelimit.Limiter
	Google   *identity.GoogleAuthenticator
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Tab-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	cookies := newCookieWriter(cfg.Environment, cfg.SessionTTL)
	requireAuth := newAuthMiddleware(deps.Identity, cookies, logger)

	authHandler := NewAuthHandler(deps.Identity, deps.Limiter, cookies, logger)
	confirmHandler := NewConfirmHandler(deps.Identity, cookies, logger)
	sessionHandler := NewSessionHandler(deps.Identity, deps.Registry, deps.Policy, cookies, logger)
	adminHandler := NewAdminHandler(deps.Admin, logger)

	// Browser-facing confirmation links land outside /api.
	r.Get("/auth/confirm", confirmHandler.Redirect)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/login", authHandler.Login)
			r.Get("/confirm", confirmHandler.Redirect)
			r.Post("/confirm", confirmHandler.Bootstrap)
			r.Post("/resend-confirmation", authHandler.ResendConfirmation)
			r.Post("/reset-password", authHandler.ResetPassword)

			if deps.Google != nil {
				oauthHandler := NewOAuthHandler(deps.Google, deps.Identity, cookies, cfg.SiteURL, cfg.Environment, logger)
				r.Get("/google", oauthHandler.InitiateGoogle)
				r.Get("/google/callback", oauthHandler.CallbackGoogle)
			}

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/update-password", authHandler.UpdatePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", sessionHandler.Status)
				r.Delete("/", sessionHandler.SignOut)
				r.Post("/heartbeat", sessionHandler.Heartbeat)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(identity.RoleManager, identity.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.Get("/", adminHandler.ListUsers)
					r.Post("/", adminHandler.CreateUser)
					r.Get("/export", adminHandler.ExportUsers)
					r.Post("/import", adminHandler.ImportUsers)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", adminHandler.GetUser)
						r.Put("/", adminHandler.UpdateUser)
						r.Delete("/", adminHandler.DeleteUser)
					})
				})

				r.Route("/roles", func(r chi.Router) {
					r.Get("/", adminHandler.ListRoles)
					r.Post("/", adminHandler.CreateRole)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", adminHandler.GetRole)
						r.Put("/", adminHandler.UpdateRole)
						r.Delete("/", adminHandler.DeleteRole)
					})
				})

				r.Route("/settings", func(r chi.Router) {
					r.Get("/", adminHandler.ListSettings)
					r.Route("/{key}", func(r chi.Router) {
						r.Get("/", adminHandler.GetSetting)
						r.Put("/", adminHandler.PutSetting)
						r.Delete("/", adminHandler.DeleteSetting)
					})
				})
			})
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
