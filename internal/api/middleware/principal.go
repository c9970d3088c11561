package middleware

import (
	"context"
	"slices"
	"time"
)

type principalKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	// KeyID identifies the API key record, for audit logs.
	KeyID string

	// Name is the human-readable key owner.
	Name string

	Roles []string

	// AuthTime is when the key was verified.
	AuthTime time.Time
}

// HasRole reports whether the caller carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// GetPrincipal returns the caller attached by Authenticate, if any.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)

	return p, ok
}

// SetPrincipal attaches p to ctx.
func SetPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}
