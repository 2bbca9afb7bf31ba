package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/policy"
)

type stores struct {
	policies    *policy.Service
	assignments *assignment.Service
}

func newManager(t *testing.T, legacy LegacySource) (*Manager, stores) {
	t.Helper()
	policies := policy.NewService(policy.NewMemoryRepository(), nil)
	assignments := assignment.NewService(assignment.NewMemoryRepository(), policies, nil)
	m, err := NewManager(policies, assignments, legacy, nil)
	require.NoError(t, err)
	return m, stores{policies: policies, assignments: assignments}
}

func TestBaselineCatalog(t *testing.T) {
	c, err := Baseline()
	require.NoError(t, err)
	require.Len(t, c.Policies, 10)
	for _, p := range c.Policies {
		assert.Equal(t, "2024-01-01", p.Version, p.ID)
		assert.NoError(t, policy.ValidateCreate(p), p.ID)
	}
	set, ok := c.RoleSet("regular_user")
	require.True(t, ok)
	assert.Contains(t, set, "DeliveryChallanViewer")
}

func TestInitializeBaselineIsIdempotent(t *testing.T) {
	m, s := newManager(t, nil)
	ctx := context.Background()

	first, err := m.InitializeBaseline(ctx)
	require.NoError(t, err)
	assert.Len(t, first.Created, 10)
	assert.Empty(t, first.Skipped)

	second, err := m.InitializeBaseline(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 10)

	n, err := s.policies.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	p, err := s.policies.Get(ctx, "DeliveryChallanManager")
	require.NoError(t, err)
	assert.Equal(t, "Delivery Challan Manager", p.Name)
}

func TestMigrateLegacyRoles(t *testing.T) {
	legacy := StaticSource{
		{Name: "Dispatcher", Permissions: []string{"delivery_challan:read", "delivery_challan:update", "reports"}, Users: []string{"u1", "u2", "u1"}},
		{Name: "Regular_User", Users: []string{"u3"}},
		{Name: "Ghost", Users: []string{"u4"}},
	}
	m, s := newManager(t, legacy)
	ctx := context.Background()
	_, err := m.InitializeBaseline(ctx)
	require.NoError(t, err)

	res, err := m.MigrateLegacyRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, res.Results["Dispatcher"])
	assert.Equal(t, []string{"u3"}, res.Results["Regular_User"])
	assert.Empty(t, res.Results["Ghost"])
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "Ghost", res.Failures[0].Role)

	generated, err := s.policies.GetByName(ctx, LegacyPolicyPrefix+"Dispatcher")
	require.NoError(t, err)
	require.Len(t, generated.Statements, 1)
	assert.Equal(t, []string{"*"}, generated.Statements[0].Resources)

	u1, err := s.assignments.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, u1, 1)
	assert.Equal(t, MigrationActor, u1[0].AssignedBy)

	u3, err := s.assignments.ListForUser(ctx, "u3")
	require.NoError(t, err)
	assert.Len(t, u3, 4)

	// a second run reuses the generated policy and adds nothing
	again, err := m.MigrateLegacyRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, again.Results["Dispatcher"])
	all, err := s.assignments.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

type flakyAssignments struct {
	AssignmentStore
	failFor string
}

func (f flakyAssignments) Assign(ctx context.Context, userID, policyID string, in assignment.AssignInput) (assignment.Assignment, error) {
	if userID == f.failFor {
		return assignment.Assignment{}, errors.New("store unavailable")
	}
	return f.AssignmentStore.Assign(ctx, userID, policyID, in)
}

func TestMigrateIsolatesUserFailures(t *testing.T) {
	legacy := StaticSource{{Name: "Viewer", Permissions: []string{"client:read"}, Users: []string{"bad", "good"}}}
	_, s := newManager(t, nil)
	m, err := NewManager(s.policies, flakyAssignments{AssignmentStore: s.assignments, failFor: "bad"}, legacy, nil)
	require.NoError(t, err)

	res, err := m.MigrateLegacyRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, res.Results["Viewer"])
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad", res.Failures[0].UserID)
	assert.Equal(t, "store unavailable", res.Failures[0].Error)

	p, err := s.policies.GetByName(context.Background(), LegacyPolicyPrefix+"Viewer")
	require.NoError(t, err)
	assert.Equal(t, []string{"client:*"}, p.Statements[0].Resources)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`roles:
  - name: Admin
    permissions: ["user:read", "client:read"]
    users: ["42"]
`), 0o600))

	roles, err := FileSource{Path: path}.Roles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Admin", roles[0].Name)
	assert.Equal(t, []string{"42"}, roles[0].Users)
	assert.Equal(t, []string{"client:*", "user:*"}, resourcesFor(roles[0].Permissions))

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Roles(context.Background())
	assert.Error(t, err)
}

func TestCleanupAndHealth(t *testing.T) {
	m, s := newManager(t, nil)
	ctx := context.Background()
	_, err := m.InitializeBaseline(ctx)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = s.assignments.Assign(ctx, "u1", "UserReadOnly", assignment.AssignInput{ExpiresAt: &past})
	require.NoError(t, err)
	_, err = s.assignments.Assign(ctx, "u2", "UserReadOnly", assignment.AssignInput{})
	require.NoError(t, err)

	health, err := m.SystemHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, health.SystemStatus)
	assert.Equal(t, 10, health.TotalPolicies)
	assert.Equal(t, 2, health.TotalAssignments)
	assert.Equal(t, 1, health.ActiveAssignments)
	assert.Equal(t, 1, health.ExpiredAssignments)

	n, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	health, err = m.SystemHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, health.SystemStatus)
	assert.Equal(t, 1, health.TotalAssignments)
}

func TestMigrateWithoutSource(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.MigrateLegacyRoles(context.Background())
	assert.Error(t, err)
}

func TestMigrateReactivatesLapsedPairs(t *testing.T) {
	legacy := StaticSource{{Name: "Viewer", Permissions: []string{"client:read"}, Users: []string{"lapsed", "disabled", "kept"}}}
	m, s := newManager(t, legacy)
	ctx := context.Background()

	_, err := m.MigrateLegacyRoles(ctx)
	require.NoError(t, err)
	p, err := s.policies.GetByName(ctx, LegacyPolicyPrefix+"Viewer")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	_, err = s.assignments.Assign(ctx, "lapsed", p.ID, assignment.AssignInput{ExpiresAt: &past})
	require.NoError(t, err)
	inactive := false
	_, err = s.assignments.Assign(ctx, "disabled", p.ID, assignment.AssignInput{Active: &inactive})
	require.NoError(t, err)
	keptNotes := "hand edited"
	_, err = s.assignments.Assign(ctx, "kept", p.ID, assignment.AssignInput{Notes: &keptNotes})
	require.NoError(t, err)

	res, err := m.MigrateLegacyRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"disabled", "kept", "lapsed"}, res.Results["Viewer"])

	for _, user := range []string{"lapsed", "disabled"} {
		active, err := s.assignments.ListActiveForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, active, 1, user)
		assert.Nil(t, active[0].ExpiresAt, user)
	}
	kept, err := s.assignments.ListForUser(ctx, "kept")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.NotNil(t, kept[0].Notes)
	assert.Equal(t, keptNotes, *kept[0].Notes)
}
