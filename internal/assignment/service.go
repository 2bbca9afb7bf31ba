package assignment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/shared"
)

// Repository defines data access methods for assignments.
type Repository interface {
	// Upsert inserts or updates the (user, policy) row atomically and returns
	// the stored state.
	Upsert(ctx context.Context, a Assignment) (Assignment, error)
	Delete(ctx context.Context, userID, policyID string) error
	ListForUser(ctx context.Context, userID string) ([]Assignment, error)
	ListAll(ctx context.Context) ([]Assignment, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Assignment, error)
	ListActiveForPolicy(ctx context.Context, policyID string, now time.Time) ([]Assignment, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Counts(ctx context.Context, now time.Time) (Counts, error)
}

// PolicyLookup resolves policy ids.
type PolicyLookup interface {
	Get(ctx context.Context, id string) (policy.Policy, error)
}

// Invalidator is notified after every successful mutation.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles assignment business logic.
type Service struct {
	repo        Repository
	policies    PolicyLookup
	logger      *slog.Logger
	audit       shared.AuditRecorder
	invalidator Invalidator
	now         func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, policies PolicyLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		policies: policies,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetAuditRecorder enables audit records for mutations.
func (s *Service) SetAuditRecorder(a shared.AuditRecorder) {
	s.audit = a
}

// SetInvalidator registers the decision cache invalidator.
func (s *Service) SetInvalidator(i Invalidator) {
	s.invalidator = i
}

// Assign binds policyID to userID. Re-assigning an existing pair replaces
// expires_at, notes and active and keeps id, assigned_at and assigned_by.
func (s *Service) Assign(ctx context.Context, userID, policyID string, in AssignInput) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	policyID = strings.TrimSpace(policyID)
	if userID == "" {
		return Assignment{}, shared.NewValidationError("user_id", "is required")
	}
	if policyID == "" {
		return Assignment{}, shared.NewValidationError("policy_id", "is required")
	}
	if _, err := s.policies.Get(ctx, policyID); err != nil {
		return Assignment{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	assignedBy := strings.TrimSpace(in.AssignedBy)
	if assignedBy == "" {
		assignedBy = shared.ActorFromContext(ctx, "system")
	}
	now := s.now()
	candidate := Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		PolicyID:   policyID,
		AssignedAt: now,
		AssignedBy: assignedBy,
		ExpiresAt:  utcPtr(in.ExpiresAt),
		Notes:      in.Notes,
		Active:     active,
		UpdatedAt:  now,
	}
	stored, err := s.repo.Upsert(ctx, candidate)
	if err != nil {
		return Assignment{}, shared.StoreError("assign policy", err)
	}
	s.afterMutation(ctx, "assignment.assign", stored.ID, map[string]any{"user_id": userID, "policy_id": policyID, "active": active})
	return stored, nil
}

// Unassign removes the assignment for the pair.
func (s *Service) Unassign(ctx context.Context, userID, policyID string) error {
	userID = strings.TrimSpace(userID)
	policyID = strings.TrimSpace(policyID)
	if err := s.repo.Delete(ctx, userID, policyID); err != nil {
		return shared.StoreError("unassign policy", err)
	}
	s.afterMutation(ctx, "assignment.unassign", userID+"/"+policyID, map[string]any{"user_id": userID, "policy_id": policyID})
	return nil
}

// ListForUser returns every assignment of the user regardless of validity.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Assignment, error) {
	items, err := s.repo.ListForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, shared.StoreError("list user assignments", err)
	}
	return items, nil
}

// ListAll returns every assignment.
func (s *Service) ListAll(ctx context.Context) ([]Assignment, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, shared.StoreError("list assignments", err)
	}
	return items, nil
}

// ListActiveForUser returns only the user's currently effective assignments.
func (s *Service) ListActiveForUser(ctx context.Context, userID string) ([]Assignment, error) {
	items, err := s.repo.ListActiveForUser(ctx, strings.TrimSpace(userID), s.now())
	if err != nil {
		return nil, shared.StoreError("list active assignments", err)
	}
	return items, nil
}

// UsersWithPolicy returns the distinct users currently holding policyID.
func (s *Service) UsersWithPolicy(ctx context.Context, policyID string) ([]string, error) {
	policyID = strings.TrimSpace(policyID)
	if _, err := s.policies.Get(ctx, policyID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListActiveForPolicy(ctx, policyID, s.now())
	if err != nil {
		return nil, shared.StoreError("list policy holders", err)
	}
	users := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, a := range items {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		users = append(users, a.UserID)
	}
	return users, nil
}

// EffectivePolicies resolves the policies behind the user's effective
// assignments. Dangling references are skipped.
func (s *Service) EffectivePolicies(ctx context.Context, userID string) ([]policy.Policy, error) {
	active, err := s.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(active))
	out := make([]policy.Policy, 0, len(active))
	for _, a := range active {
		if _, ok := seen[a.PolicyID]; ok {
			continue
		}
		seen[a.PolicyID] = struct{}{}
		p, err := s.policies.Get(ctx, a.PolicyID)
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Debug("assignment references missing policy", slog.String("user_id", userID), slog.String("policy_id", a.PolicyID))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteExpired removes assignments whose expiry is at or before now.
func (s *Service) DeleteExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, shared.StoreError("delete expired assignments", err)
	}
	if n > 0 {
		s.afterMutation(ctx, "assignment.cleanup", "expired", map[string]any{"removed": n})
	}
	return n, nil
}

// Counts returns totals used by the health report.
func (s *Service) Counts(ctx context.Context) (Counts, error) {
	c, err := s.repo.Counts(ctx, s.now())
	if err != nil {
		return Counts{}, shared.StoreError("count assignments", err)
	}
	return c, nil
}

func (s *Service) afterMutation(ctx context.Context, action, id string, meta map[string]any) {
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("assignment cache invalidate", slog.String("entity_id", id), slog.Any("error", err))
		}
	}
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx, "system"),
		Action:   action,
		Entity:   "assignment",
		EntityID: id,
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("assignment audit", slog.String("action", action), slog.Any("error", err))
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
