package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity describes the authenticated actor for the current request.
type Identity struct {
	AccountID uuid.UUID
	Role      Role
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. The zero Identity is
// returned when no identity middleware ran.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
