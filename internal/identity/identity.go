// Package identity verifies bearer tokens from the hosted identity provider and
// carries the caller through request contexts.
package identity

import (
	"context"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the caller stored in ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
