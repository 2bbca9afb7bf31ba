package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/foursyz/policyd/internal/shared"
)

type pairKey struct {
	userID   string
	policyID string
}

// MemoryRepository keeps assignments in process. Used for development and tests.
type MemoryRepository struct {
	mu    sync.Mutex
	rows  map[pairKey]Assignment
	order []pairKey
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[pairKey]Assignment)}
}

// Upsert inserts the pair or updates the mutable fields of the existing row.
func (r *MemoryRepository) Upsert(ctx context.Context, a Assignment) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	key := pairKey{a.UserID, a.PolicyID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[key]; ok {
		existing.ExpiresAt = a.ExpiresAt
		existing.Notes = a.Notes
		existing.Active = a.Active
		existing.UpdatedAt = a.UpdatedAt
		r.rows[key] = clone(existing)
		return clone(existing), nil
	}
	r.rows[key] = clone(a)
	r.order = append(r.order, key)
	return clone(a), nil
}

// Delete removes the pair.
func (r *MemoryRepository) Delete(ctx context.Context, userID, policyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := pairKey{userID, policyID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[key]; !ok {
		return shared.NotFoundf("assignment of policy %q to user %q", policyID, userID)
	}
	r.removeLocked(key)
	return nil
}

// ListForUser returns the user's assignments in assignment order.
func (r *MemoryRepository) ListForUser(ctx context.Context, userID string) ([]Assignment, error) {
	return r.filter(ctx, func(a Assignment) bool { return a.UserID == userID })
}

// ListAll returns every assignment.
func (r *MemoryRepository) ListAll(ctx context.Context) ([]Assignment, error) {
	return r.filter(ctx, func(Assignment) bool { return true })
}

// ListActiveForUser returns the user's effective assignments.
func (r *MemoryRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Assignment, error) {
	return r.filter(ctx, func(a Assignment) bool { return a.UserID == userID && a.IsEffective(now) })
}

// ListActiveForPolicy returns the policy's effective assignments.
func (r *MemoryRepository) ListActiveForPolicy(ctx context.Context, policyID string, now time.Time) ([]Assignment, error) {
	return r.filter(ctx, func(a Assignment) bool { return a.PolicyID == policyID && a.IsEffective(now) })
}

// DeleteExpired removes every assignment expired at now.
func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []pairKey
	for _, key := range r.order {
		if r.rows[key].IsExpired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		r.removeLocked(key)
	}
	return len(expired), nil
}

// Counts returns totals at now.
func (r *MemoryRepository) Counts(ctx context.Context, now time.Time) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Counts{Total: len(r.rows)}
	for _, a := range r.rows {
		if a.IsEffective(now) {
			c.Active++
		}
		if a.IsExpired(now) {
			c.Expired++
		}
	}
	return c, nil
}

func (r *MemoryRepository) filter(ctx context.Context, keep func(Assignment) bool) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Assignment, 0)
	for _, key := range r.order {
		if a := r.rows[key]; keep(a) {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (r *MemoryRepository) removeLocked(key pairKey) {
	delete(r.rows, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
