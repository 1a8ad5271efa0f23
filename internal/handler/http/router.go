package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalogsync/internal/service"
	"github.com/utafrali/catalogsync/pkg/health"
	"github.com/utafrali/catalogsync/pkg/middleware"
)

// RouterConfig carries the HTTP surface settings.
type RouterConfig struct {
	AdminToken string
	// SearchRPS and SearchBurst bound each client on /api/v1/search.
	// SearchRPS <= 0 turns the limit off.
	SearchRPS   float64
	SearchBurst int
}

// NewRouter creates a chi router with the admin sync API, the storefront
// search endpoint and the operational endpoints.
func NewRouter(
	orchestrator *service.Orchestrator,
	reporter *service.StatusReporter,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics())
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	syncHandler := NewSyncHandler(orchestrator, reporter, logger)
	searchHandler := NewSearchHandler(orchestrator, logger)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken))
		r.Post("/full", syncHandler.TriggerFull)
		r.Post("/items/{id}", syncHandler.TriggerItem)
		r.Get("/status", syncHandler.Status)
		r.Get("/logs", syncHandler.ListLogs)
		r.Get("/logs/{id}", syncHandler.GetLog)
	})

	r.With(middleware.RateLimit(cfg.SearchRPS, cfg.SearchBurst, logger)).
		Get("/api/v1/search", searchHandler.Search)

	return r
}
