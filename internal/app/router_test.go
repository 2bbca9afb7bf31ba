package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/lifecycle"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/rbac"
)

func newTestServer(t *testing.T) (http.Handler, *Container) {
	t.Helper()
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("AUTHZ_BOOTSTRAP_USERS", "root")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Build(context.Background(), cfg, logger)
	require.NoError(t, err)

	mw := rbac.Middleware{Authorizer: c.Evaluator, Logger: logger, Enabled: cfg.AuthzEnabled, Bootstrap: cfg.AuthzBootstrapUsers}
	router := NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACMiddleware:    mw,
		PolicyHandler:     policy.NewHandler(logger, c.Policies, mw),
		AssignmentHandler: assignment.NewHandler(logger, c.Assignments, mw),
		EvaluatorHandler:  evaluator.NewHandler(logger, c.Evaluator, mw),
		LifecycleHandler:  lifecycle.NewHandler(logger, c.Lifecycle, mw),
		Metrics:           c.Metrics,
		Ready:             c.Ready,
	})
	return router, c
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	if user != "" {
		req.Header.Set(rbac.HeaderUserID, user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := newTestServer(t)

	rr := do(t, router, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "policyd_http_requests_total")
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	router, _ := newTestServer(t)

	rr := do(t, router, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	router, c := newTestServer(t)

	rr := do(t, router, http.MethodGet, "/policies", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodGet, "/policies", "u1", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/system/initialize", "root", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	_, err := c.Assignments.Assign(context.Background(), "u1", "PermissionAdministrator", assignment.AssignInput{})
	require.NoError(t, err)

	rr = do(t, router, http.MethodGet, "/policies", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 10, body.Total)
}

func TestEvaluateEndpoint(t *testing.T) {
	router, c := newTestServer(t)
	rr := do(t, router, http.MethodPost, "/system/initialize", "root", "")
	require.Equal(t, http.StatusOK, rr.Code)
	_, err := c.Assignments.Assign(context.Background(), "viewer", "DeliveryChallanViewer", assignment.AssignInput{})
	require.NoError(t, err)

	payload := `{"user_id":"viewer","action":"delivery_challan:delete","resource":"delivery_challan:9"}`
	rr = do(t, router, http.MethodPost, "/evaluate", "root", payload)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Evaluation evaluator.Decision `json:"evaluation"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Evaluation.Allowed)
	assert.Equal(t, "delivery_challan:delete", body.Evaluation.RequiredAction)
}
