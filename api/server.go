/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Metrics:    Per-route request counters and latency histograms

ROUTE GROUPS:
  /api/accounts/*       Accounts, observations, reports
  /api/ingest/*         Snapshot ingestion and run history
  /api/preferences      Application preferences
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/follow-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, collector *metrics.Collector) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if collector != nil {
		r.Use(collector.Instrument)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.SaveAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/observations", h.ListObservations)
			r.Get("/{id}/last-states", h.ListLastStates)
			r.Get("/{id}/current", h.CurrentObservations)
			r.Get("/{id}/report", h.GetReport)
		})

		// Ingest routes
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/", h.Ingest)
			r.Get("/runs", h.ListRuns)
		})

		// Preferences routes
		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.SavePreferences)
	})

	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
