package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/lifecycle"
	"github.com/foursyz/policyd/internal/observability"
	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	RBACMiddleware    rbac.Middleware
	PolicyHandler     *policy.Handler
	AssignmentHandler *assignment.Handler
	EvaluatorHandler  *evaluator.Handler
	LifecycleHandler  *lifecycle.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func(r *http.Request) error
}

// NewRouter constructs the chi.Router with policyd defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		RBAC:    params.RBACMiddleware,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, httpx.Envelope{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, httpx.Envelope{"status": "ok"})
	})

	if params.PolicyHandler != nil {
		r.Route("/policies", params.PolicyHandler.MountRoutes)
	}
	if params.AssignmentHandler != nil {
		r.Route("/assignments", params.AssignmentHandler.MountRoutes)
	}
	if params.EvaluatorHandler != nil {
		r.Route("/evaluate", params.EvaluatorHandler.MountRoutes)
	}
	if params.LifecycleHandler != nil {
		r.Route("/system", params.LifecycleHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
