package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/observability"
	"github.com/odyssey-erp/school-billing/internal/platform/httpx"
	"github.com/odyssey-erp/school-billing/internal/reports"
	"github.com/odyssey-erp/school-billing/internal/roster"
	"github.com/odyssey-erp/school-billing/internal/statement"
	"github.com/odyssey-erp/school-billing/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LedgerHandler    *ledger.Handler
	RosterHandler    *roster.Handler
	StatementHandler *statement.Handler
	ReportsHandler   *reports.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	// Ready reports storage health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.RosterHandler != nil {
			params.RosterHandler.MountRoutes(r)
		}
		if params.StatementHandler != nil {
			params.StatementHandler.MountRoutes(r)
		}
		if params.ReportsHandler != nil {
			params.ReportsHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
