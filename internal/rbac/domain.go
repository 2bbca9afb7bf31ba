package rbac

import "context"

// HeaderUserID carries the caller id set by the upstream gateway.
const HeaderUserID = "X-User-ID"

// Authorizer decides whether a user may perform action on resource.
type Authorizer interface {
	Authorize(ctx context.Context, userID, action, resource string) (bool, string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, userID, action, resource string) (bool, string, error)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, userID, action, resource string) (bool, string, error) {
	return f(ctx, userID, action, resource)
}
