package shared

import "context"

type contextKey string

const principalKey contextKey = "principal"

// Principal identifies the authenticated caller of an admin request. The
// fronting application authenticates the session and forwards the identity;
// this core only authorizes.
type Principal struct {
	UserID int64
	Guard  string
}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
