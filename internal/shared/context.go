package shared

import "context"

type principalContextKey struct{}

// Principal describes the caller of an admin endpoint.
type Principal struct {
	UserID    string
	Bootstrap bool
}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the caller id or the fallback when unknown.
func ActorFromContext(ctx context.Context, fallback string) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID
	}
	return fallback
}
