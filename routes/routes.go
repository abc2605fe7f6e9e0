package routes

import (
	"net/http"
	"time"

	"github.com/arcoportus/portal/app"
	"github.com/arcoportus/portal/internal/observability"
	"github.com/arcoportus/portal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	if deps.Config.Server.TrustProxyHeaders {
		// only safe behind a proxy that overwrites these headers
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(observability.Instrument)

	// CORS middleware
	origins := deps.Config.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	auth := deps.AuthMiddleware

	r.Route("/auth", func(r chi.Router) {
		// Credential endpoints are throttled per client IP
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Limit)
			}
			r.Post("/login", deps.AuthHandler.HandleLogin)
			r.Post("/forgot-password", deps.AuthHandler.HandleForgotPassword)
			r.Post("/reset-password", deps.AuthHandler.HandleResetPassword)
		})

		// The token may already be expired here, so no RequireAuth
		r.Post("/refresh-token", deps.AuthHandler.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Patch("/force-change-password", deps.AuthHandler.HandleForceChangePassword)
			r.Post("/logout", deps.AuthHandler.HandleLogout)
			r.Get("/me", deps.AuthHandler.HandleMe)
		})
	})

	// Audit trail (require admin role)
	r.Route("/audit", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(auth.RequireRole(deps.Config.Auth.AdminRoles...))
		if perm := deps.Config.Auth.AuditPermission; perm != "" {
			r.Use(auth.RequirePermission(perm))
		}
		r.Get("/", deps.AuditHandler.HandleList)
		r.Get("/stats", deps.AuditHandler.HandleStats)
		r.Get("/{id}", deps.AuditHandler.HandleGet)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
