package policy

import "time"

// Effect is the outcome of a matching statement.
type Effect string

const (
	// EffectAllow grants the request.
	EffectAllow Effect = "Allow"
	// EffectDeny blocks the request regardless of any allow.
	EffectDeny Effect = "Deny"
)

// Statement grants or denies a set of actions over a set of resource patterns.
type Statement struct {
	Sid        string         `json:"sid,omitempty" yaml:"sid,omitempty"`
	Effect     Effect         `json:"effect" yaml:"effect" validate:"required,oneof=Allow Deny"`
	Actions    []string       `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	Resources  []string       `json:"resources" yaml:"resources" validate:"required,min=1,dive,required"`
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Policy is a named, versioned list of statements.
type Policy struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Statements  []Statement `json:"statements"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CreateInput is the payload accepted by Service.Create.
type CreateInput struct {
	ID          string      `json:"id,omitempty" yaml:"id,omitempty" validate:"omitempty,max=128"`
	Name        string      `json:"name" yaml:"name" validate:"required,max=255"`
	Description string      `json:"description" yaml:"description" validate:"required"`
	Version     string      `json:"version" yaml:"version" validate:"required,max=64"`
	Statements  []Statement `json:"statements" yaml:"statements" validate:"required,min=1,dive"`
}

// UpdateInput carries the fields to merge; nil fields are left untouched.
type UpdateInput struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Version     *string      `json:"version,omitempty"`
	Statements  *[]Statement `json:"statements,omitempty"`
}

// StatementRef points at a statement inside a policy.
type StatementRef struct {
	PolicyID  string
	Index     int
	Statement Statement
}

// Flatten lists every statement of the given policies in order.
func Flatten(policies []Policy) []StatementRef {
	var out []StatementRef
	for _, p := range policies {
		for i, stmt := range p.Statements {
			out = append(out, StatementRef{PolicyID: p.ID, Index: i, Statement: stmt})
		}
	}
	return out
}

func cloneStatements(in []Statement) []Statement {
	if in == nil {
		return nil
	}
	out := make([]Statement, len(in))
	for i, s := range in {
		out[i] = Statement{
			Sid:       s.Sid,
			Effect:    s.Effect,
			Actions:   append([]string(nil), s.Actions...),
			Resources: append([]string(nil), s.Resources...),
		}
		if s.Conditions != nil {
			out[i].Conditions = make(map[string]any, len(s.Conditions))
			for k, v := range s.Conditions {
				out[i].Conditions[k] = v
			}
		}
	}
	return out
}

// Clone returns a deep copy safe to hand out of a store.
func (p Policy) Clone() Policy {
	p.Statements = cloneStatements(p.Statements)
	return p
}
