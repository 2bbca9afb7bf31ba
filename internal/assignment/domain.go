package assignment

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/foursyz/policyd/internal/shared"
)

// Assignment binds a policy to a user.
type Assignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	PolicyID   string     `json:"policy_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Notes      *string    `json:"notes"`
	Active     bool       `json:"active"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsExpired reports whether the assignment has an expiry at or before now.
func (a Assignment) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// IsEffective reports whether the assignment currently grants its policy.
func (a Assignment) IsEffective(now time.Time) bool {
	return a.Active && !a.IsExpired(now)
}

// AssignInput carries the optional fields of an assign call.
type AssignInput struct {
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Active     *bool      `json:"active,omitempty"`
	AssignedBy string     `json:"assigned_by,omitempty"`
}

// expiryLayouts are tried in order. Zoneless values are read as UTC; the last
// two are what an HTML datetime-local input submits.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// UnmarshalJSON accepts expires_at as null, "" (never expires), RFC3339, or a
// zoneless local timestamp. Unknown fields are rejected.
func (in *AssignInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ExpiresAt  *string `json:"expires_at"`
		Notes      *string `json:"notes"`
		Active     *bool   `json:"active"`
		AssignedBy string  `json:"assigned_by"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	expires, err := parseExpiry(raw.ExpiresAt)
	if err != nil {
		return err
	}
	*in = AssignInput{ExpiresAt: expires, Notes: raw.Notes, Active: raw.Active, AssignedBy: raw.AssignedBy}
	return nil
}

func parseExpiry(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, shared.NewValidationError("expires_at", "must be RFC3339 or YYYY-MM-DDTHH:MM[:SS]")
}

// Counts summarises the assignment table at a point in time.
type Counts struct {
	Total   int
	Active  int
	Expired int
}

func clone(a Assignment) Assignment {
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		a.ExpiresAt = &t
	}
	if a.Notes != nil {
		n := *a.Notes
		a.Notes = &n
	}
	return a
}
