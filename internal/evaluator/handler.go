package evaluator

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/rbac"
	"github.com/foursyz/policyd/internal/shared"
)

// Handler serves the evaluation endpoint.
type Handler struct {
	logger    *slog.Logger
	evaluator *Evaluator
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, evaluator *Evaluator, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, evaluator: evaluator, rbac: rbac}
}

// MountRoutes registers evaluation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionsEvaluate)).Post("/", h.evaluate)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		if errors.Is(err, shared.ErrTimeout) {
			httpx.JSON(w, http.StatusGatewayTimeout, httpx.Envelope{
				"status":     "error",
				"message":    ReasonTimedOut,
				"evaluation": d,
			})
			return
		}
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("evaluate", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "permission evaluated", httpx.Envelope{"evaluation": d})
}
