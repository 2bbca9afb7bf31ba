package lifecycle

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/internal/shared"
)

// Handler serves the /system endpoints.
type Handler struct {
	logger  *slog.Logger
	manager *Manager
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, rbac: rbac}
}

// MountRoutes registers system routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsUpdate))
		r.Post("/initialize", h.initialize)
		r.Post("/migrate", h.migrate)
		r.Post("/cleanup", h.cleanup)
	})
	r.With(h.rbac.RequireAny(shared.PermPermissionsRead)).Get("/health", h.health)
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.InitializeBaseline(r.Context())
	if err != nil {
		h.fail(w, "initialize baseline", err)
		return
	}
	httpx.Success(w, http.StatusOK, "baseline policies initialized", httpx.Envelope{
		"created_policies": res.Created,
		"skipped_policies": res.Skipped,
	})
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.MigrateLegacyRoles(r.Context())
	if err != nil {
		h.fail(w, "migrate legacy roles", err)
		return
	}
	httpx.Success(w, http.StatusOK, "legacy roles migrated", httpx.Envelope{
		"migration_results":  res.Results,
		"migration_failures": res.Failures,
	})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.CleanupExpired(r.Context())
	if err != nil {
		h.fail(w, "cleanup expired", err)
		return
	}
	httpx.Success(w, http.StatusOK, "expired assignments cleaned", httpx.Envelope{"cleaned_count": n})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.manager.SystemHealth(r.Context())
	if err != nil {
		h.fail(w, "system health", err)
		return
	}
	httpx.Success(w, http.StatusOK, "system health retrieved", httpx.Envelope{"health": health})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
