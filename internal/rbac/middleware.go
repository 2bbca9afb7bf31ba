package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/foursyz/policyd/internal/platform/httpx"
	"github.com/foursyz/policyd/internal/shared"
)

// Middleware wires policy-based authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
	Enabled    bool
	Bootstrap  []string
	Resource   string
}

// Identify reads the caller id from HeaderUserID and stores the principal in context.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		p := shared.Principal{UserID: userID, Bootstrap: m.isBootstrap(userID)}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireAny ensures the caller is allowed at least one of the actions.
// Refusals are answered as shared.ErrForbidden.
func (m Middleware) RequireAny(actions ...string) func(http.Handler) http.Handler {
	actions = normalizeActions(actions)
	resource := m.Resource
	if resource == "" {
		resource = shared.ResourcePermissions
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled || len(actions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := m.principal(r)
			if !ok {
				httpx.RespondError(w, fmt.Errorf("%w: missing caller identity", shared.ErrForbidden))
				return
			}
			if p.Bootstrap {
				next.ServeHTTP(w, r)
				return
			}
			if m.Authorizer == nil {
				httpx.RespondError(w, fmt.Errorf("%w: authorization unavailable", shared.ErrForbidden))
				return
			}
			var lastReason string
			for _, action := range actions {
				allowed, reason, err := m.Authorizer.Authorize(r.Context(), p.UserID, action, resource)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("rbac authorize", slog.String("user_id", p.UserID), slog.String("action", action), slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
				if allowed {
					next.ServeHTTP(w, r)
					return
				}
				lastReason = reason
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied", slog.String("user_id", p.UserID), slog.Any("actions", actions), slog.String("reason", lastReason))
			}
			httpx.RespondError(w, fmt.Errorf("%w: permission denied: %s", shared.ErrForbidden, lastReason))
		})
	}
}

func (m Middleware) principal(r *http.Request) (shared.Principal, bool) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return p, true
	}
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return shared.Principal{}, false
	}
	return shared.Principal{UserID: userID, Bootstrap: m.isBootstrap(userID)}, true
}

func (m Middleware) isBootstrap(userID string) bool {
	for _, id := range m.Bootstrap {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

func normalizeActions(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	normalized := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		normalized = append(normalized, a)
	}
	return normalized
}
