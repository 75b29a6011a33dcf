// Package api exposes the admission REST surface: one PUT endpoint per
// delivery channel, request lookup and cancellation, and the auth token
// exchange.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/auth"
	"github.com/evicertia/pn-ec/internal/dispatch"
	"github.com/evicertia/pn-ec/internal/repository"
)

// NewRouter creates a chi.Mux with all routes, middleware, and handlers
// configured. readiness dependencies are optional; nil entries are skipped.
func NewRouter(d *dispatch.Dispatcher, repo repository.Repository, registry *auth.Registry, jwts *auth.JWTService, log zerolog.Logger, ready ...Pinger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationID)
	r.Use(RequestLog(log))
	r.Use(Recover(log))

	// Operational endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(ready...))
	r.Handle("/metrics", promhttp.Handler())

	// Token exchange (authenticates with the raw API key itself)
	r.Post("/external-channels/v1/auth/token", TokenHandler(registry, jwts))

	// Delivery request routes (auth required)
	r.Route("/external-channels/v1", func(r chi.Router) {
		r.Use(auth.ClientAuth(registry, jwts))

		r.Put("/digital-deliveries/legal-full-message-requests/{requestIdx}", AdmitPECHandler(d))
		r.Put("/digital-deliveries/courtesy-short-message-requests/{requestIdx}", AdmitSMSHandler(d))
		r.Put("/paper-deliveries-engagements/{requestIdx}", AdmitPaperHandler(d))

		r.Get("/requests/{requestIdx}", GetRequestHandler(repo))
		r.Delete("/requests/{requestIdx}", CancelRequestHandler(repo))
	})

	return r
}
