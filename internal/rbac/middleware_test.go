package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foursyz/policyd/internal/shared"
)

func serveGuarded(m Middleware, guard func(http.Handler) http.Handler, user string) int {
	return serveGuardedBody(m, guard, user).Code
}

func serveGuardedBody(m Middleware, guard func(http.Handler) http.Handler, user string) *httptest.ResponseRecorder {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	m.Identify(guard(ok)).ServeHTTP(rec, req)
	return rec
}

func allowOnly(action string) AuthorizerFunc {
	return func(_ context.Context, _, a, _ string) (bool, string, error) {
		if a == action {
			return true, "allowed", nil
		}
		return false, "no matching allow statement", nil
	}
}

func TestRequireAny(t *testing.T) {
	m := Middleware{Authorizer: allowOnly(shared.PermPermissionsRead), Enabled: true}

	assert.Equal(t, http.StatusNoContent, serveGuarded(m, m.RequireAny(shared.PermPermissionsList, shared.PermPermissionsRead), "u1"))
	assert.Equal(t, http.StatusForbidden, serveGuarded(m, m.RequireAny(shared.PermPermissionsDelete), "u1"))
	assert.Equal(t, http.StatusForbidden, serveGuarded(m, m.RequireAny(shared.PermPermissionsRead), ""))
}

func TestRefusalBodies(t *testing.T) {
	m := Middleware{Authorizer: allowOnly(shared.PermPermissionsRead), Enabled: true}

	rec := serveGuardedBody(m, m.RequireAny(shared.PermPermissionsDelete), "u1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"forbidden: permission denied: no matching allow statement"`)

	rec = serveGuardedBody(m, m.RequireAny(shared.PermPermissionsRead), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing caller identity")
}

func TestBootstrapAndDisabled(t *testing.T) {
	deny := AuthorizerFunc(func(context.Context, string, string, string) (bool, string, error) {
		return false, "denied", nil
	})

	m := Middleware{Authorizer: deny, Enabled: true, Bootstrap: []string{" root "}}
	assert.Equal(t, http.StatusNoContent, serveGuarded(m, m.RequireAny(shared.PermPermissionsCreate), "root"))
	assert.Equal(t, http.StatusForbidden, serveGuarded(m, m.RequireAny(shared.PermPermissionsCreate), "u1"))

	m.Enabled = false
	assert.Equal(t, http.StatusNoContent, serveGuarded(m, m.RequireAny(shared.PermPermissionsCreate), ""))
}

func TestAuthorizerErrorsMapToStatus(t *testing.T) {
	timeout := AuthorizerFunc(func(context.Context, string, string, string) (bool, string, error) {
		return false, "evaluation timed out", shared.ErrTimeout
	})
	m := Middleware{Authorizer: timeout, Enabled: true}
	assert.Equal(t, http.StatusGatewayTimeout, serveGuarded(m, m.RequireAny(shared.PermPermissionsRead), "u1"))

	broken := AuthorizerFunc(func(context.Context, string, string, string) (bool, string, error) {
		return false, "", errors.New("db down")
	})
	m = Middleware{Authorizer: broken, Enabled: true}
	assert.Equal(t, http.StatusInternalServerError, serveGuarded(m, m.RequireAny(shared.PermPermissionsRead), "u1"))

	m = Middleware{Enabled: true}
	assert.Equal(t, http.StatusForbidden, serveGuarded(m, m.RequireAny(shared.PermPermissionsRead), "u1"))
}
