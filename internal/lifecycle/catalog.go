package lifecycle

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foursyz/policyd/internal/policy"
)

//go:embed baseline.yaml
var baselineYAML []byte

// Catalog is the baseline policy set shipped with the binary.
type Catalog struct {
	Version        string               `yaml:"version"`
	Policies       []policy.CreateInput `yaml:"policies"`
	RolePolicySets map[string][]string  `yaml:"role_policy_sets"`
}

// LoadCatalog parses a catalog document. Policies without a version inherit
// the document version.
func LoadCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("lifecycle: parse catalog: %w", err)
	}
	for i := range c.Policies {
		if c.Policies[i].Version == "" {
			c.Policies[i].Version = c.Version
		}
	}
	return c, nil
}

// Baseline returns the embedded catalog.
func Baseline() (Catalog, error) {
	return LoadCatalog(baselineYAML)
}

// RoleSet returns the baseline policy ids for a legacy designation, matched
// case-insensitively.
func (c Catalog) RoleSet(role string) ([]string, bool) {
	for name, ids := range c.RolePolicySets {
		if strings.EqualFold(name, strings.TrimSpace(role)) {
			return append([]string(nil), ids...), true
		}
	}
	return nil, false
}
