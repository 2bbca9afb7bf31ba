package policy

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/foursyz/policyd/internal/shared"
)

var validate = validator.New()

func normalizeStatements(in []Statement) []Statement {
	out := cloneStatements(in)
	for i := range out {
		out[i].Sid = strings.TrimSpace(out[i].Sid)
		out[i].Effect = Effect(strings.TrimSpace(string(out[i].Effect)))
		for j, a := range out[i].Actions {
			out[i].Actions[j] = strings.TrimSpace(a)
		}
		for j, r := range out[i].Resources {
			out[i].Resources[j] = strings.TrimSpace(r)
		}
	}
	return out
}

func normalizeCreate(in CreateInput) CreateInput {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Version = strings.TrimSpace(in.Version)
	in.Statements = normalizeStatements(in.Statements)
	return in
}

// ValidateCreate checks a normalised create payload.
func ValidateCreate(in CreateInput) error {
	if err := validate.Struct(in); err != nil {
		return shared.FromValidator(err)
	}
	if strings.Contains(in.ID, " ") {
		return shared.NewValidationError("id", "must not contain spaces")
	}
	return nil
}

// ValidatePolicy checks the merged state of a policy before it is saved.
func ValidatePolicy(p Policy) error {
	return ValidateCreate(CreateInput{
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		Statements:  p.Statements,
	})
}
