package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the HTTP router with both authentication flows.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/login", a.handleLogin(ProviderCitizen))
		r.Post("/callback", a.handleCallback(ProviderCitizen))
		r.Get("/logout", a.handleLogout(ProviderCitizen))
		r.Post("/refresh", a.handleRefresh)
		r.Get("/session", a.handleSession)

		if a.Config.Server.DevAuth {
			r.Post("/dev-login", a.handleDevLogin)
		}
	})

	r.Route("/api/admin-auth", func(r chi.Router) {
		r.Get("/login", a.handleLogin(ProviderAdmin))
		r.Post("/callback", a.handleCallback(ProviderAdmin))
		r.Get("/logout", a.handleLogout(ProviderAdmin))

		r.Group(func(r chi.Router) {
			r.Use(a.RequireRole(RoleAdmin))
			r.Get("/session", a.handleSession)
		})
	})

	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
