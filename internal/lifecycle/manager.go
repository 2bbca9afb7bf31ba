// Package lifecycle runs system-level operations over the policy and assignment stores.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/shared"
)

const (
	// MigrationActor is recorded as assigned_by on migrated assignments.
	MigrationActor = "system:migration"
	// LegacyPolicyPrefix prefixes the name of policies generated from legacy roles.
	LegacyPolicyPrefix = "legacy-role:"

	StatusHealthy = "healthy"
	StatusWarning = "warning"
)

// PolicyStore is the subset of the policy service used here.
type PolicyStore interface {
	Create(ctx context.Context, in policy.CreateInput) (policy.Policy, error)
	Get(ctx context.Context, id string) (policy.Policy, error)
	GetByName(ctx context.Context, name string) (policy.Policy, error)
	Update(ctx context.Context, id string, in policy.UpdateInput) (policy.Policy, error)
	Count(ctx context.Context) (int, error)
}

// AssignmentStore is the subset of the assignment service used here.
type AssignmentStore interface {
	Assign(ctx context.Context, userID, policyID string, in assignment.AssignInput) (assignment.Assignment, error)
	ListForUser(ctx context.Context, userID string) ([]assignment.Assignment, error)
	DeleteExpired(ctx context.Context) (int, error)
	Counts(ctx context.Context) (assignment.Counts, error)
}

// InitResult reports which baseline policies were created or already present.
type InitResult struct {
	Created []string `json:"created_policies"`
	Skipped []string `json:"skipped_policies"`
}

// MigrationFailure describes one grant that could not be migrated.
type MigrationFailure struct {
	Role     string `json:"role"`
	UserID   string `json:"user_id,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
	Error    string `json:"error"`
}

// MigrationResult maps each legacy role to the users that now hold its policies.
type MigrationResult struct {
	Results  map[string][]string `json:"migration_results"`
	Failures []MigrationFailure  `json:"migration_failures"`
}

// SystemHealth is an aggregate snapshot of the stores.
type SystemHealth struct {
	TotalPolicies      int       `json:"total_policies"`
	TotalAssignments   int       `json:"total_assignments"`
	ActiveAssignments  int       `json:"active_assignments"`
	ExpiredAssignments int       `json:"expired_assignments"`
	SystemStatus       string    `json:"system_status"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Manager runs lifecycle operations.
type Manager struct {
	policies    PolicyStore
	assignments AssignmentStore
	legacy      LegacySource
	catalog     Catalog
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager builds a Manager over the embedded baseline catalog.
func NewManager(policies PolicyStore, assignments AssignmentStore, legacy LegacySource, logger *slog.Logger) (*Manager, error) {
	catalog, err := Baseline()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policies:    policies,
		assignments: assignments,
		legacy:      legacy,
		catalog:     catalog,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Catalog returns the baseline catalog in use.
func (m *Manager) Catalog() Catalog {
	return m.catalog
}

// InitializeBaseline creates every catalog policy that does not exist yet,
// matched by id or name. Running it twice creates nothing the second time.
func (m *Manager) InitializeBaseline(ctx context.Context) (InitResult, error) {
	res := InitResult{Created: []string{}, Skipped: []string{}}
	for _, in := range m.catalog.Policies {
		exists, err := m.baselineExists(ctx, in)
		if err != nil {
			return res, err
		}
		if exists {
			res.Skipped = append(res.Skipped, in.ID)
			continue
		}
		p, err := m.policies.Create(ctx, in)
		if errors.Is(err, shared.ErrConflict) {
			res.Skipped = append(res.Skipped, in.ID)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("initialize %s: %w", in.ID, err)
		}
		res.Created = append(res.Created, p.ID)
	}
	m.logger.Info("baseline initialized", slog.Int("created", len(res.Created)), slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (m *Manager) baselineExists(ctx context.Context, in policy.CreateInput) (bool, error) {
	if in.ID != "" {
		_, err := m.policies.Get(ctx, in.ID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return false, err
		}
	}
	_, err := m.policies.GetByName(ctx, in.Name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// MigrateLegacyRoles converts legacy role grants into policy assignments.
// A role with explicit permissions gets a generated "legacy-role:<role>"
// policy; a role without permissions whose name matches a catalog role set
// receives that set. Failures are collected per user and never abort the run.
func (m *Manager) MigrateLegacyRoles(ctx context.Context) (MigrationResult, error) {
	res := MigrationResult{Results: map[string][]string{}, Failures: []MigrationFailure{}}
	if m.legacy == nil {
		return res, shared.NewValidationError("legacy_source", "no legacy role source configured")
	}
	roles, err := m.legacy.Roles(ctx)
	if err != nil {
		return res, fmt.Errorf("load legacy roles: %w", err)
	}
	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := strings.TrimSpace(role.Name)
		if name == "" {
			res.Failures = append(res.Failures, MigrationFailure{Error: "legacy role without a name"})
			continue
		}
		affected := []string{}
		policyIDs, err := m.policiesForRole(ctx, name, role.Permissions)
		if err != nil {
			m.logger.Warn("legacy role policy", slog.String("role", name), slog.Any("error", err))
			res.Failures = append(res.Failures, MigrationFailure{Role: name, Error: err.Error()})
			res.Results[name] = affected
			continue
		}
		for _, userID := range dedupe(role.Users) {
			if failure := m.migrateUser(ctx, name, userID, policyIDs); failure != nil {
				m.logger.Warn("legacy role migration", slog.String("role", name), slog.String("user_id", userID), slog.String("error", failure.Error))
				res.Failures = append(res.Failures, *failure)
				continue
			}
			affected = append(affected, userID)
		}
		res.Results[name] = affected
	}
	m.logger.Info("legacy roles migrated", slog.Int("roles", len(res.Results)), slog.Int("failures", len(res.Failures)))
	return res, nil
}

func (m *Manager) policiesForRole(ctx context.Context, role string, permissions []string) ([]string, error) {
	perms := dedupe(permissions)
	if len(perms) == 0 {
		if set, ok := m.catalog.RoleSet(role); ok {
			return set, nil
		}
		return nil, fmt.Errorf("role %s has no permissions and no baseline policy set", role)
	}
	p, err := m.ensureLegacyPolicy(ctx, role, perms)
	if err != nil {
		return nil, err
	}
	return []string{p.ID}, nil
}

func (m *Manager) ensureLegacyPolicy(ctx context.Context, role string, perms []string) (policy.Policy, error) {
	name := LegacyPolicyPrefix + role
	stmts := []policy.Statement{{
		Sid:       "LegacyRoleGrant",
		Effect:    policy.EffectAllow,
		Actions:   perms,
		Resources: resourcesFor(perms),
	}}
	existing, err := m.policies.GetByName(ctx, name)
	switch {
	case err == nil:
		if reflect.DeepEqual(existing.Statements, stmts) {
			return existing, nil
		}
		return m.policies.Update(ctx, existing.ID, policy.UpdateInput{Statements: &stmts})
	case errors.Is(err, shared.ErrNotFound):
		return m.policies.Create(ctx, policy.CreateInput{
			Name:        name,
			Description: "Migrated from legacy role " + role,
			Version:     m.catalog.Version,
			Statements:  stmts,
		})
	default:
		return policy.Policy{}, err
	}
}

// migrateUser assigns every policy to the user. Pairs that are already
// effective are left untouched; deactivated or expired pairs are reactivated
// without expiry so the user ends up holding the role's grant.
func (m *Manager) migrateUser(ctx context.Context, role, userID string, policyIDs []string) *MigrationFailure {
	current, err := m.assignments.ListForUser(ctx, userID)
	if err != nil {
		return &MigrationFailure{Role: role, UserID: userID, Error: err.Error()}
	}
	now := m.now()
	held := make(map[string]struct{}, len(current))
	for _, a := range current {
		if a.IsEffective(now) {
			held[a.PolicyID] = struct{}{}
		}
	}
	notes := "migrated from legacy role " + role
	for _, pid := range policyIDs {
		if _, ok := held[pid]; ok {
			continue
		}
		_, err := m.assignments.Assign(ctx, userID, pid, assignment.AssignInput{AssignedBy: MigrationActor, Notes: &notes})
		if err != nil {
			return &MigrationFailure{Role: role, UserID: userID, PolicyID: pid, Error: err.Error()}
		}
	}
	return nil
}

// CleanupExpired deletes every assignment past its expiry.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.assignments.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("expired assignments cleaned", slog.Int("count", n))
	return n, nil
}

// SystemHealth reports aggregate counts. Status is "warning" while expired
// assignments are waiting for cleanup.
func (m *Manager) SystemHealth(ctx context.Context) (SystemHealth, error) {
	total, err := m.policies.Count(ctx)
	if err != nil {
		return SystemHealth{}, err
	}
	counts, err := m.assignments.Counts(ctx)
	if err != nil {
		return SystemHealth{}, err
	}
	status := StatusHealthy
	if counts.Expired > 0 {
		status = StatusWarning
	}
	return SystemHealth{
		TotalPolicies:      total,
		TotalAssignments:   counts.Total,
		ActiveAssignments:  counts.Active,
		ExpiredAssignments: counts.Expired,
		SystemStatus:       status,
		LastUpdated:        m.now(),
	}, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
