package auth

import (
	"context"
	"slices"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDoctor
}

// Identity is the authenticated subject of a request.
type Identity struct {
	UserID   string
	Username string
	Role     Role
}

func (i *Identity) HasRole(roles ...Role) bool {
	return i != nil && slices.Contains(roles, i.Role)
}

func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity attached by a guard, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
