package assignment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/internal/shared"
)

// Handler serves the assignment endpoints.
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

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionsList)).Get("/", h.listAll)
	r.With(h.rbac.RequireAny(shared.PermPermissionsAssign)).Post("/{userID}/policies/{policyID}", h.assign)
	r.With(h.rbac.RequireAny(shared.PermPermissionsUnassign)).Delete("/{userID}/policies/{policyID}", h.unassign)
	r.With(h.rbac.RequireAny(shared.PermPermissionsRead)).Get("/{userID}/policies", h.userPolicies)
	r.With(h.rbac.RequireAny(shared.PermPermissionsRead)).Get("/{userID}/assignments", h.userAssignments)
	r.With(h.rbac.RequireAny(shared.PermPermissionsRead)).Get("/by-policy/{policyID}/users", h.policyUsers)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var in AssignInput
	if err := httpx.DecodeOptionalJSON(r, &in); err != nil {
		h.fail(w, "decode assignment", err)
		return
	}
	a, err := h.service.Assign(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "policyID"), in)
	if err != nil {
		h.fail(w, "assign policy", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy assigned", httpx.Envelope{"assignment": a})
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unassign(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "policyID")); err != nil {
		h.fail(w, "unassign policy", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy unassigned", nil)
}

func (h *Handler) userPolicies(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.EffectivePolicies(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, "user policies", err)
		return
	}
	if items == nil {
		items = []policy.Policy{}
	}
	httpx.Success(w, http.StatusOK, "user policies retrieved", httpx.Envelope{"policies": items, "total": len(items)})
}

func (h *Handler) userAssignments(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, "user assignments", err)
		return
	}
	if items == nil {
		items = []Assignment{}
	}
	httpx.Success(w, http.StatusOK, "user assignments retrieved", httpx.Envelope{"assignments": items, "total": len(items)})
}

func (h *Handler) policyUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.UsersWithPolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		h.fail(w, "policy users", err)
		return
	}
	httpx.Success(w, http.StatusOK, "policy users retrieved", httpx.Envelope{"users": users, "total": len(users)})
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAll(r.Context())
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}
	if items == nil {
		items = []Assignment{}
	}
	httpx.Success(w, http.StatusOK, "assignments retrieved", httpx.Envelope{"assignments": items, "total": len(items)})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
