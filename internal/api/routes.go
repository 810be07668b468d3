package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mailcorpus/mailcorpus/internal/health"
	"github.com/mailcorpus/mailcorpus/internal/metrics"
	"github.com/mailcorpus/mailcorpus/internal/middleware"
	"github.com/mailcorpus/mailcorpus/internal/store"
)

// NewRouter assembles the query API router with its middleware stack,
// probe endpoints, and metrics.
func NewRouter(st *store.Store, healthHandler *health.Handler, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler.Health)
	r.Get("/readyz", healthHandler.Readiness)
	r.Get("/livez", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	h := NewHandler(st, log)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/messages", func(r chi.Router) {
			r.Get("/", h.ListMessages)
			r.Get("/{id}", h.GetMessage)
			r.Get("/{id}/thread", h.GetThread)
			r.Get("/{id}/segments", h.GetSegments)
		})
		r.Get("/entities/{address}", h.GetEntity)
	})

	return r
}
