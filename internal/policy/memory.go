package policy

import (
	"context"
	"sync"

	"github.com/foursyz/policyd/internal/shared"
)

// MemoryRepository keeps policies in process. Used for development and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]Policy
	order []string
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Policy)}
}

// Insert stores a new policy.
func (r *MemoryRepository) Insert(ctx context.Context, p Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return shared.ConflictErrorf("policy id %q already exists", p.ID)
	}
	if r.nameTakenLocked(p.Name, "") {
		return shared.ConflictErrorf("policy name %q already exists", p.Name)
	}
	r.byID[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	return nil
}

// Get returns the policy with id.
func (r *MemoryRepository) Get(ctx context.Context, id string) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Policy{}, shared.NotFoundf("policy %q", id)
	}
	return p.Clone(), nil
}

// GetByName returns the policy with name.
func (r *MemoryRepository) GetByName(ctx context.Context, name string) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if p := r.byID[id]; p.Name == name {
			return p.Clone(), nil
		}
	}
	return Policy{}, shared.NotFoundf("policy named %q", name)
}

// List returns policies in insertion order.
func (r *MemoryRepository) List(ctx context.Context) ([]Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out, nil
}

// Save replaces an existing policy.
func (r *MemoryRepository) Save(ctx context.Context, p Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		return shared.NotFoundf("policy %q", p.ID)
	}
	if r.nameTakenLocked(p.Name, p.ID) {
		return shared.ConflictErrorf("policy name %q already exists", p.Name)
	}
	r.byID[p.ID] = p.Clone()
	return nil
}

// Delete removes the policy with id.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return shared.NotFoundf("policy %q", id)
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of policies.
func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), nil
}

func (r *MemoryRepository) nameTakenLocked(name, exceptID string) bool {
	for id, p := range r.byID {
		if id != exceptID && p.Name == name {
			return true
		}
	}
	return false
}
