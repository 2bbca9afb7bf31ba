package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foursyz/policyd/internal/shared"
)

// Repository defines data access methods for policies. Implementations return
// errors wrapping shared.ErrNotFound and shared.ErrConflict.
type Repository interface {
	Insert(ctx context.Context, p Policy) error
	Get(ctx context.Context, id string) (Policy, error)
	GetByName(ctx context.Context, name string) (Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Save(ctx context.Context, p Policy) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Invalidator is notified after every successful mutation.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles policy business logic.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	audit       shared.AuditRecorder
	invalidator Invalidator
	now         func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetAuditRecorder enables audit records for mutations.
func (s *Service) SetAuditRecorder(a shared.AuditRecorder) {
	s.audit = a
}

// SetInvalidator registers the decision cache invalidator.
func (s *Service) SetInvalidator(i Invalidator) {
	s.invalidator = i
}

// Create validates and stores a new policy.
func (s *Service) Create(ctx context.Context, in CreateInput) (Policy, error) {
	in = normalizeCreate(in)
	if err := ValidateCreate(in); err != nil {
		return Policy{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	p := Policy{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Version:     in.Version,
		Statements:  in.Statements,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return Policy{}, shared.StoreError("create policy", err)
	}
	s.afterMutation(ctx, "policy.create", p.ID, map[string]any{"name": p.Name})
	return p.Clone(), nil
}

// Get returns the policy with id.
func (s *Service) Get(ctx context.Context, id string) (Policy, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Policy{}, shared.StoreError("get policy", err)
	}
	return p, nil
}

// GetByName returns the policy with the given name.
func (s *Service) GetByName(ctx context.Context, name string) (Policy, error) {
	p, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return Policy{}, shared.StoreError("get policy by name", err)
	}
	return p, nil
}

// List returns all policies in creation order.
func (s *Service) List(ctx context.Context) ([]Policy, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.StoreError("list policies", err)
	}
	return items, nil
}

// Count returns the number of stored policies.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, shared.StoreError("count policies", err)
	}
	return n, nil
}

// Update merges the provided fields into the stored policy.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Policy, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Policy{}, shared.StoreError("update policy", err)
	}
	merged := current.Clone()
	if in.Name != nil {
		merged.Name = *in.Name
	}
	if in.Description != nil {
		merged.Description = *in.Description
	}
	if in.Version != nil {
		merged.Version = *in.Version
	}
	if in.Statements != nil {
		merged.Statements = *in.Statements
	}
	norm := normalizeCreate(CreateInput{
		Name:        merged.Name,
		Description: merged.Description,
		Version:     merged.Version,
		Statements:  merged.Statements,
	})
	merged.Name, merged.Description, merged.Version, merged.Statements = norm.Name, norm.Description, norm.Version, norm.Statements
	if err := ValidatePolicy(merged); err != nil {
		return Policy{}, err
	}
	merged.UpdatedAt = s.now()
	if !merged.UpdatedAt.After(current.UpdatedAt) {
		merged.UpdatedAt = current.UpdatedAt.Add(time.Microsecond)
	}
	if err := s.repo.Save(ctx, merged); err != nil {
		return Policy{}, shared.StoreError("update policy", err)
	}
	s.afterMutation(ctx, "policy.update", merged.ID, map[string]any{"name": merged.Name})
	return merged.Clone(), nil
}

// Delete removes the policy. Deleting an unknown id reports ErrNotFound.
// Assignments referencing the policy are left in place.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return shared.StoreError("delete policy", err)
	}
	s.afterMutation(ctx, "policy.delete", id, nil)
	return nil
}

func (s *Service) afterMutation(ctx context.Context, action, id string, meta map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("policy cache invalidate", slog.String("policy_id", id), slog.Any("error", err))
		}
	}
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx, "system"),
		Action:   action,
		Entity:   "policy",
		EntityID: id,
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("policy audit", slog.String("action", action), slog.String("policy_id", id), slog.Any("error", err))
	}
}
