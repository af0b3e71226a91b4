package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/metrics"
	"github.com/oslsr/kestrel/internal/review"
	"github.com/oslsr/kestrel/internal/thresholds"
	"github.com/oslsr/kestrel/internal/worker"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Thresholds *thresholds.Service
	Reviews    *review.Service
	Dispatcher *worker.Dispatcher
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Version    string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/submissions", handler.CreateSubmission)
		r.Post("/submissions/{id}/evaluate", handler.EvaluateSubmission)

		r.Get("/fraud-detections", handler.ListDetections)
		r.Get("/fraud-detections/clusters", handler.ListClusters)
		r.Get("/fraud-detections/{id}", handler.GetDetection)
		r.Patch("/fraud-detections/{id}/review", handler.ReviewDetection)
		r.Post("/fraud-detections/bulk-review", handler.BulkReview)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleSuperAdmin, domain.RoleVerificationAssessor, domain.RoleSupervisor))
			r.Get("/fraud-thresholds", handler.ListThresholds)
			r.Get("/fraud-thresholds/{ruleKey}/history", handler.ThresholdHistory)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleSuperAdmin))
			r.Put("/fraud-thresholds/{ruleKey}", handler.UpdateThreshold)
			r.Post("/forms", handler.CreateForm)
			r.Post("/teams/{supervisorId}/enumerators", handler.AssignEnumerator)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
