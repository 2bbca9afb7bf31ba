// Package evaluator turns a user's active assignments into an allow/deny decision.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/policy"
	"github.com/foursyz/policyd/internal/shared"
)

// Decision reasons that are not tied to a specific statement.
const (
	ReasonNoAssignments = "no active policy assignments"
	ReasonNoAllow       = "no matching allow statement"
	ReasonTimedOut      = "evaluation timed out"
	ReasonFailed        = "evaluation failed"
)

var validate = validator.New()

// Request is a single authorization question.
type Request struct {
	UserID   string         `json:"user_id" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Resource string         `json:"resource" validate:"required"`
	Context  map[string]any `json:"context,omitempty"`
}

// Decision is the evaluator's answer together with its audit trail.
type Decision struct {
	Allowed            bool              `json:"allowed"`
	Reason             string            `json:"reason"`
	MatchedStatement   *policy.Statement `json:"matched_statement,omitempty"`
	MatchedPolicy      string            `json:"matched_policy,omitempty"`
	EvaluatedPolicies  []string          `json:"evaluated_policies"`
	UnresolvedPolicies []string          `json:"unresolved_policies,omitempty"`
	RequiredAction     string            `json:"required_action"`
	RequiredResource   string            `json:"required_resource"`
}

// AssignmentSource lists a user's effective assignments.
type AssignmentSource interface {
	ListActiveForUser(ctx context.Context, userID string) ([]assignment.Assignment, error)
}

// PolicySource resolves policy ids.
type PolicySource interface {
	Get(ctx context.Context, id string) (policy.Policy, error)
}

// Observer receives decision outcomes.
type Observer interface {
	ObserveDecision(outcome string, elapsed time.Duration)
}

// Evaluator produces decisions from the current store state.
type Evaluator struct {
	assignments AssignmentSource
	policies    PolicySource
	logger      *slog.Logger
	timeout     time.Duration
	cache       *Cache
	observer    Observer
}

// New constructs an Evaluator.
func New(assignments AssignmentSource, policies PolicySource, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{assignments: assignments, policies: policies, logger: logger}
}

// SetTimeout bounds every evaluation. Zero leaves only the caller deadline.
func (e *Evaluator) SetTimeout(d time.Duration) {
	e.timeout = d
}

// SetCache enables the decision cache.
func (e *Evaluator) SetCache(c *Cache) {
	e.cache = c
}

// SetObserver registers a metrics sink.
func (e *Evaluator) SetObserver(o Observer) {
	e.observer = o
}

// Evaluate decides whether req is permitted. It fails closed: any returned
// error comes with a deny decision.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	start := time.Now()
	req.UserID = strings.TrimSpace(req.UserID)
	req.Action = strings.TrimSpace(req.Action)
	req.Resource = strings.TrimSpace(req.Resource)
	if err := validateRequest(req); err != nil {
		return denied(req, ReasonFailed), err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		d   Decision
		err error
	)
	if e.cache != nil {
		d, err = e.cache.Fetch(ctx, req, e.boundedEvaluate)
	} else {
		d, err = e.evaluate(ctx, req)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, shared.ErrTimeout) {
			e.observe("timeout", start)
			e.logger.Warn("evaluation timed out", slog.String("user_id", req.UserID), slog.String("action", req.Action), slog.String("resource", req.Resource))
			return denied(req, ReasonTimedOut), fmt.Errorf("evaluate %s on %s: %w", req.Action, req.Resource, shared.ErrTimeout)
		}
		e.observe("error", start)
		return denied(req, ReasonFailed), fmt.Errorf("evaluate %s on %s: %w", req.Action, req.Resource, err)
	}
	if d.Allowed {
		e.observe("allow", start)
	} else {
		e.observe("deny", start)
	}
	return d, nil
}

// Authorize adapts Evaluate to the rbac.Authorizer contract.
func (e *Evaluator) Authorize(ctx context.Context, userID, action, resource string) (bool, string, error) {
	d, err := e.Evaluate(ctx, Request{UserID: userID, Action: action, Resource: resource})
	if err != nil {
		return false, d.Reason, err
	}
	return d.Allowed, d.Reason, nil
}

// boundedEvaluate is the cache loader. Shared loads outlive the caller that
// started them, so they carry the evaluator timeout on their own.
func (e *Evaluator) boundedEvaluate(ctx context.Context, req Request) (Decision, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.evaluate(ctx, req)
}

func (e *Evaluator) evaluate(ctx context.Context, req Request) (Decision, error) {
	active, err := e.assignments.ListActiveForUser(ctx, req.UserID)
	if err != nil {
		return Decision{}, err
	}
	if len(active) == 0 {
		return denied(req, ReasonNoAssignments), nil
	}

	ids := uniquePolicyIDs(active)
	resolved := make([]policy.Policy, 0, len(ids))
	d := denied(req, "")
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		p, err := e.policies.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			e.logger.Debug("skipping dangling policy reference", slog.String("user_id", req.UserID), slog.String("policy_id", id))
			d.UnresolvedPolicies = append(d.UnresolvedPolicies, id)
			continue
		}
		if err != nil {
			return Decision{}, err
		}
		resolved = append(resolved, p)
		d.EvaluatedPolicies = append(d.EvaluatedPolicies, p.ID)
	}

	var denyMatch, allowMatch *policy.StatementRef
	for _, ref := range policy.Flatten(resolved) {
		if !policy.Matches(ref.Statement, req.Action, req.Resource) {
			continue
		}
		ref := ref
		switch ref.Statement.Effect {
		case policy.EffectDeny:
			if denyMatch == nil {
				denyMatch = &ref
			}
		case policy.EffectAllow:
			if allowMatch == nil {
				allowMatch = &ref
			}
		}
		if denyMatch != nil {
			break
		}
	}

	switch {
	case denyMatch != nil:
		d.Reason = "explicitly denied by " + describeRef(*denyMatch)
		d.MatchedStatement = &denyMatch.Statement
		d.MatchedPolicy = denyMatch.PolicyID
	case allowMatch != nil:
		d.Allowed = true
		d.Reason = "allowed by " + describeRef(*allowMatch)
		d.MatchedStatement = &allowMatch.Statement
		d.MatchedPolicy = allowMatch.PolicyID
	default:
		d.Reason = ReasonNoAllow
	}
	return d, nil
}

func (e *Evaluator) observe(outcome string, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveDecision(outcome, time.Since(start))
	}
}

func denied(req Request, reason string) Decision {
	return Decision{
		Reason:            reason,
		EvaluatedPolicies: []string{},
		RequiredAction:    req.Action,
		RequiredResource:  req.Resource,
	}
}

func uniquePolicyIDs(items []assignment.Assignment) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, a := range items {
		if _, ok := seen[a.PolicyID]; ok {
			continue
		}
		seen[a.PolicyID] = struct{}{}
		ids = append(ids, a.PolicyID)
	}
	return ids
}

func describeRef(ref policy.StatementRef) string {
	if ref.Statement.Sid != "" {
		return fmt.Sprintf("policy %s statement %s", ref.PolicyID, ref.Statement.Sid)
	}
	return fmt.Sprintf("policy %s statement #%d", ref.PolicyID, ref.Index)
}

func validateRequest(req Request) error {
	return shared.FromValidator(validate.Struct(req))
}
