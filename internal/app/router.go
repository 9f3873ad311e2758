package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	billinghttp "github.com/odyssey-erp/treatment-billing/internal/billing/http"
	"github.com/odyssey-erp/treatment-billing/internal/observability"
	"github.com/odyssey-erp/treatment-billing/internal/platform/httpx"
	"github.com/odyssey-erp/treatment-billing/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	BillingHandler *billinghttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	// Readiness checks run by /readyz, keyed by name.
	Readiness map[string]Pinger
}

// NewRouter constructs the chi.Router with billing defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Logger, params.Readiness))

	if params.BillingHandler != nil {
		r.Route("/billing", params.BillingHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

func readiness(logger *slog.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				}
				out[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
