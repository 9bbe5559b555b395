package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/limits/check", s.HandleCheckLimits)
		r.Get("/usage/{tenantId}", s.HandleGetUsage)

		// Administrative
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/cleanup", s.HandleManualCleanup)
			r.Get("/health", s.HandleDatabaseHealth)
			r.Post("/storage/reconcile", s.HandleReconcileStorage)
		})
	})
}

// setupMetricsRoute exposes prometheus metrics outside the API prefix.
func (s *RESTServer) setupMetricsRoute(r chi.Router) {
	if s.svc.Gatherer == nil {
		return
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.svc.Gatherer, promhttp.HandlerOpts{}))
}
