package policy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/internal/shared"
)

// Handler serves the policy management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers policy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionsList)).Get("/", h.list)
	r.With(h.rbac.RequireAny(shared.PermPermissionsCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAny(shared.PermPermissionsRead)).Get("/{id}", h.get)
	r.With(h.rbac.RequireAny(shared.PermPermissionsUpdate)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAny(shared.PermPermissionsDelete)).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list policies", err)
		return
	}
	if items == nil {
		items = []Policy{}
	}
	httpx.Success(w, http.StatusOK, "policies retrieved", httpx.Envelope{"policies": items, "total": len(items)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get policy", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy retrieved", httpx.Envelope{"policy": p})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, "decode policy", err)
		return
	}
	p, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create policy", err)
		return
	}
	httpx.Success(w, http.StatusCreated, "policy created", httpx.Envelope{"policy": p})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, "decode policy update", err)
		return
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "update policy", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy updated", httpx.Envelope{"policy": p})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete policy", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy deleted", nil)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
