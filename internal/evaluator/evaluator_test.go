package evaluator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/shared"
)

type env struct {
	policies    *policy.Service
	assignments *assignment.Service
	eval        *Evaluator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	policies := policy.NewService(policy.NewMemoryRepository(), nil)
	assignments := assignment.NewService(assignment.NewMemoryRepository(), policies, nil)
	return &env{
		policies:    policies,
		assignments: assignments,
		eval:        New(assignments, policies, nil),
	}
}

func (e *env) policy(t *testing.T, id string, stmts ...policy.Statement) {
	t.Helper()
	_, err := e.policies.Create(context.Background(), policy.CreateInput{
		ID: id, Name: id, Description: id, Version: "2024-01-01", Statements: stmts,
	})
	require.NoError(t, err)
}

func (e *env) assign(t *testing.T, userID, policyID string) {
	t.Helper()
	_, err := e.assignments.Assign(context.Background(), userID, policyID, assignment.AssignInput{})
	require.NoError(t, err)
}

func allow(actions, resources []string) policy.Statement {
	return policy.Statement{Effect: policy.EffectAllow, Actions: actions, Resources: resources}
}

func deny(sid string, actions, resources []string) policy.Statement {
	return policy.Statement{Sid: sid, Effect: policy.EffectDeny, Actions: actions, Resources: resources}
}

func TestDefaultDenyWithoutAssignments(t *testing.T) {
	e := newEnv(t)
	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:read", Resource: "user:1"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoAssignments, d.Reason)
	assert.Empty(t, d.EvaluatedPolicies)
	assert.Equal(t, "user:read", d.RequiredAction)
	assert.Equal(t, "user:1", d.RequiredResource)
}

func TestWildcardAllow(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "ClientManager", allow([]string{"client:*"}, []string{"client:*"}))
	e.assign(t, "u1", "ClientManager")

	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "client:read", Resource: "client:123"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "ClientManager", d.MatchedPolicy)
	require.NotNil(t, d.MatchedStatement)
	assert.Equal(t, []string{"ClientManager"}, d.EvaluatedPolicies)

	d, err = e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "client:read", Resource: "user:123"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoAllow, d.Reason)
	assert.Equal(t, []string{"ClientManager"}, d.EvaluatedPolicies)
}

func TestExplicitDenyWins(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "A", allow([]string{"delivery_challan:read"}, []string{"delivery_challan:*"}))
	e.policy(t, "B", deny("Block999", []string{"delivery_challan:read"}, []string{"delivery_challan:999"}))
	e.assign(t, "u1", "A")
	e.assign(t, "u1", "B")

	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "delivery_challan:read", Resource: "delivery_challan:999"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "B", d.MatchedPolicy)
	assert.Contains(t, d.Reason, "Block999")
	assert.Equal(t, []string{"A", "B"}, d.EvaluatedPolicies)

	d, err = e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "delivery_challan:read", Resource: "delivery_challan:1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "A", d.MatchedPolicy)
}

func TestDenyWinsRegardlessOfOrder(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "Mixed",
		deny("", []string{"user:delete"}, []string{"*"}),
		allow([]string{"*"}, []string{"*"}),
	)
	e.assign(t, "u1", "Mixed")

	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:delete", Resource: "user:7"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "statement #0")
}

func TestDanglingReferenceIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "Gone", allow([]string{"*"}, []string{"*"}))
	e.policy(t, "Kept", allow([]string{"user:read"}, []string{"user:*"}))
	e.assign(t, "u1", "Gone")
	e.assign(t, "u1", "Kept")
	require.NoError(t, e.policies.Delete(context.Background(), "Gone"))

	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:read", Resource: "user:1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"Kept"}, d.EvaluatedPolicies)
	assert.Equal(t, []string{"Gone"}, d.UnresolvedPolicies)

	d, err = e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "client:delete", Resource: "client:1"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestExpiredAssignmentIsIgnored(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "All", allow([]string{"*"}, []string{"*"}))
	past := time.Now().Add(-time.Hour)
	_, err := e.assignments.Assign(context.Background(), "u1", "All", assignment.AssignInput{ExpiresAt: &past})
	require.NoError(t, err)

	d, err := e.eval.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:read", Resource: "user:1"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoAssignments, d.Reason)
}

func TestBlankRequestIsValidationError(t *testing.T) {
	e := newEnv(t)
	d, err := e.eval.Evaluate(context.Background(), Request{UserID: " ", Action: "user:read"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.False(t, d.Allowed)
}

type blockingAssignments struct{}

func (blockingAssignments) ListActiveForUser(ctx context.Context, _ string) ([]assignment.Assignment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type countingObserver struct {
	outcomes []string
}

func (o *countingObserver) ObserveDecision(outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func TestTimeoutFailsClosed(t *testing.T) {
	e := New(blockingAssignments{}, policy.NewService(policy.NewMemoryRepository(), nil), nil)
	e.SetTimeout(20 * time.Millisecond)
	obs := &countingObserver{}
	e.SetObserver(obs)

	d, err := e.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:read", Resource: "user:1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTimeout)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTimedOut, d.Reason)
	assert.Equal(t, []string{"timeout"}, obs.outcomes)
}

type countingPolicies struct {
	inner PolicySource
	calls atomic.Int32
}

func (c *countingPolicies) Get(ctx context.Context, id string) (policy.Policy, error) {
	c.calls.Add(1)
	return c.inner.Get(ctx, id)
}

type staticAssignments []assignment.Assignment

func (s staticAssignments) ListActiveForUser(context.Context, string) ([]assignment.Assignment, error) {
	return s, nil
}

func TestDuplicatePolicyIDsResolvedOnce(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "P", allow([]string{"user:read"}, []string{"*"}))
	counter := &countingPolicies{inner: e.policies}
	ev := New(staticAssignments{
		{ID: "a1", UserID: "u1", PolicyID: "P", Active: true},
		{ID: "a2", UserID: "u1", PolicyID: "P", Active: true},
	}, counter, nil)

	d, err := ev.Evaluate(context.Background(), Request{UserID: "u1", Action: "user:read", Resource: "user:1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"P"}, d.EvaluatedPolicies)
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestAuthorizeAdapter(t *testing.T) {
	e := newEnv(t)
	e.policy(t, "PermissionManager", allow([]string{"permissions:read", "permissions:list"}, []string{"permissions:*"}))
	e.assign(t, "admin", "PermissionManager")

	ok, _, err := e.eval.Authorize(context.Background(), "admin", shared.PermPermissionsList, shared.ResourcePermissions)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, reason, err := e.eval.Authorize(context.Background(), "admin", shared.PermPermissionsDelete, shared.ResourcePermissions)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonNoAllow, reason)
}
