package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/auth"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/quota"
	"github.com/propstrack/maintenance-server/internal/reconcile"
	"github.com/propstrack/maintenance-server/internal/validation"
)

// LimitChecker answers quota usage queries.
type LimitChecker interface {
	CheckLimits(ctx context.Context, tenantID string, kind models.ResourceKind, scopeID string) (*quota.LimitStatus, error)
}

// UsageReader reads the shadow counters.
type UsageReader interface {
	Usage(ctx context.Context, tenantID string) ([]models.UsageCounter, error)
}

// ManualCleaner runs ad-hoc cleanups.
type ManualCleaner interface {
	Run(ctx context.Context, req cleanup.ManualRequest) (*cleanup.ManualResult, error)
}

// HealthReporter reports collection sizes and cleanup candidates.
type HealthReporter interface {
	Check(ctx context.Context) (*cleanup.HealthReport, error)
}

// StorageReconciler compares the blob store against stored references.
type StorageReconciler interface {
	Run(ctx context.Context, opts reconcile.Options) (*models.ReconciliationReport, error)
}

// Services are the operations exposed over HTTP.
type Services struct {
	Limits     LimitChecker
	Usage      UsageReader
	Manual     ManualCleaner
	Health     HealthReporter
	Reconciler StorageReconciler
	Authn      *auth.Authenticator
	Gate       *auth.Gate
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	svc       Services
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, svc Services) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		svc:       svc,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	// Reconciliation of a large bucket is slow.
	s.router.Use(middleware.Timeout(5 * time.Minute))

	// CORS
	origins := s.config.API.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.APIKeyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.setupMetricsRoute(s.router)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the root handler.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.svc.Authn.Authenticate(r)
		if err != nil {
			s.respondError(w, err)
			return
		}

		ctx := auth.WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware admits administrators and service callers.
func (s *RESTServer) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.CallerFrom(r.Context())
		if err := s.svc.Gate.Authorize(r.Context(), caller); err != nil {
			log.Warn().
				Str("caller", caller.ID).
				Str("path", r.URL.Path).
				Str("code", string(apperr.KindOf(err))).
				Msg("Admin request refused")
			s.respondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
