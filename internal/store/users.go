package store

import (
	"context"
	"time"

	"github.com/oap-labs/oapd/internal/auth"
)

// User maps an external identity to a local account and role.
type User struct {
	ID          string    `json:"id"` // external identity subject, stable
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserStore persists users. Creation is an upsert keyed by the external id;
// the public-permission auto-grant hook runs in the service layer after a
// row is first inserted.
type UserStore interface {
	// Ensure inserts the user if absent and returns the stored row.
	// created reports whether a new row was inserted.
	Ensure(ctx context.Context, u *User) (created bool, err error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	// ListIDs returns all user ids, used by public-permission fanout.
	ListIDs(ctx context.Context) ([]string, error)
	UpdateRole(ctx context.Context, id string, role auth.Role) error
	UpdateProfile(ctx context.Context, id, email, displayName string) error
}
