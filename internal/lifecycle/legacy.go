package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// LegacyRole is one role-based grant from the pre-policy permission model.
type LegacyRole struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
	Users       []string `yaml:"users"`
}

// LegacySource lists legacy role grants.
type LegacySource interface {
	Roles(ctx context.Context) ([]LegacyRole, error)
}

// StaticSource serves a fixed role list.
type StaticSource []LegacyRole

// Roles returns the configured roles.
func (s StaticSource) Roles(context.Context) ([]LegacyRole, error) {
	return append([]LegacyRole(nil), s...), nil
}

// FileSource reads roles from a YAML document of the form
//
//	roles:
//	  - name: Admin
//	    permissions: [user:read]
//	    users: ["42"]
type FileSource struct {
	Path string
}

// Roles parses the file on every call so edits are picked up without restart.
func (s FileSource) Roles(ctx context.Context) ([]LegacyRole, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read legacy roles: %w", err)
	}
	var doc struct {
		Roles []LegacyRole `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("lifecycle: parse legacy roles: %w", err)
	}
	return doc.Roles, nil
}

// PostgresSource reads the legacy RBAC tables roles, permissions,
// role_permissions and user_roles.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource constructs a PostgresSource.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Roles returns every legacy role with its permission names and user ids.
func (s *PostgresSource) Roles(ctx context.Context) ([]LegacyRole, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*LegacyRole)
	var order []int64
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		byID[id] = &LegacyRole{Name: name}
		order = append(order, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	perms, err := s.pool.Query(ctx, `SELECT rp.role_id, p.name
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	for perms.Next() {
		var (
			roleID int64
			name   string
		)
		if err := perms.Scan(&roleID, &name); err != nil {
			perms.Close()
			return nil, err
		}
		if role, ok := byID[roleID]; ok {
			role.Permissions = append(role.Permissions, name)
		}
	}
	perms.Close()
	if err := perms.Err(); err != nil {
		return nil, err
	}

	users, err := s.pool.Query(ctx, `SELECT role_id, user_id::text FROM user_roles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer users.Close()
	for users.Next() {
		var (
			roleID int64
			userID string
		)
		if err := users.Scan(&roleID, &userID); err != nil {
			return nil, err
		}
		if role, ok := byID[roleID]; ok {
			role.Users = append(role.Users, userID)
		}
	}
	if err := users.Err(); err != nil {
		return nil, err
	}

	out := make([]LegacyRole, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// resourcesFor derives one "<namespace>:*" pattern per distinct namespace of
// the permissions; un-namespaced permissions widen the statement to "*".
func resourcesFor(permissions []string) []string {
	set := make(map[string]struct{})
	for _, p := range permissions {
		ns, _, found := strings.Cut(p, ":")
		if !found || ns == "" {
			return []string{"*"}
		}
		set[ns+":*"] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
