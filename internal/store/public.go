package store

import (
	"context"
	"time"
)

// RevokeMode selects what happens to already-materialized per-user grants
// when a public permission is revoked.
type RevokeMode string

const (
	// RevokeFutureOnly marks the public row revoked but leaves existing
	// per-user grants in place.
	RevokeFutureOnly RevokeMode = "future_only"
	// RevokeAll marks revoked and deletes every per-user grant tagged
	// granted_by='system:public' for the target.
	RevokeAll RevokeMode = "revoke_all"
)

// ValidRevokeMode reports whether m is a known revoke mode.
func ValidRevokeMode(m RevokeMode) bool {
	return m == RevokeFutureOnly || m == RevokeAll
}

// PublicPermission is an "everyone" grant on a resource. At most one row
// per (resource_type, resource_id) may be active (revoked_at IS NULL).
type PublicPermission struct {
	ID           int64        `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Level        Level        `json:"level"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	RevokedAt    *time.Time   `json:"revoked_at,omitempty"`
	RevokeMode   *RevokeMode  `json:"revoke_mode,omitempty"`
	Notes        string       `json:"notes,omitempty"`
}

// Active reports whether the public permission is currently in force.
func (p *PublicPermission) Active() bool { return p.RevokedAt == nil }

// PublicPermissionStore persists public permissions. Multi-step mutations
// (create+fanout, revoke+delete) run in a single transaction.
type PublicPermissionStore interface {
	// GetActive returns the active public row for the target, or nil.
	GetActive(ctx context.Context, rt ResourceType, resourceID string) (*PublicPermission, error)
	// CreateWithFanout inserts the public row and bulk-grants the level to
	// every existing user as system:public, skipping conflicts, all in one
	// transaction. Returns the stored row and the number of users granted.
	CreateWithFanout(ctx context.Context, pp *PublicPermission) (usersGranted int, err error)
	// Revoke marks the active (or, for a mode upgrade, already future_only
	// revoked) row with the given mode. With RevokeAll it also deletes the
	// materialized per-user grants in the same transaction. Returns the
	// number of per-user rows removed.
	Revoke(ctx context.Context, rt ResourceType, resourceID string, mode RevokeMode) (removed int, err error)
	// Reinvoke clears revoked_at/revoke_mode on the most recent revoked row.
	// It does not re-fanout; callers run an explicit backfill if desired.
	Reinvoke(ctx context.Context, rt ResourceType, resourceID string) (*PublicPermission, error)
	List(ctx context.Context, rt ResourceType) ([]PublicPermission, error)
	// ListActive returns every active public permission across all resource
	// kinds, used by the auto-grant hook on user creation.
	ListActive(ctx context.Context) ([]PublicPermission, error)
}
