// Package auth defines the actor model every operation receives from the
// HTTP boundary. Authentication itself happens upstream; this package only
// carries the resolved identity and role through context.
package auth

import "context"

// Role is the local role assigned to a user.
type Role string

const (
	RoleUser          Role = "user"
	RoleBusinessAdmin Role = "business_admin"
	RoleDevAdmin      Role = "dev_admin"
)

// ValidRole reports whether r is a recognized role.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleBusinessAdmin, RoleDevAdmin:
		return true
	}
	return false
}

// ActorType distinguishes end users from trusted service principals.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorService ActorType = "service"
)

// Actor identifies who is performing an operation.
// Service actors bypass per-user permission checks on reads and may act on
// behalf of others on writes when explicitly requested.
type Actor struct {
	Type   ActorType
	UserID string
	Role   Role
}

// IsService reports whether the actor is a trusted service principal.
func (a Actor) IsService() bool { return a.Type == ActorService }

// IsDevAdmin reports whether the actor holds the dev_admin role.
func (a Actor) IsDevAdmin() bool { return a.Role == RoleDevAdmin }

// IsAdmin reports whether the actor holds any admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleDevAdmin || a.Role == RoleBusinessAdmin
}

type ctxKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext returns the actor stored in ctx, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
