// Package store defines the domain types and storage interfaces.
// Implementations live in subpackages (pg). All methods are safe for
// concurrent use and honor context cancellation.
package store

import "github.com/google/uuid"

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users         UserStore
	Permissions   PermissionStore
	Public        PublicPermissionStore
	Notifications NotificationStore
	Collections   CollectionStore
	Documents     DocumentStore
	Chunks        ChunkStore
	Jobs          JobStore
	Mirror        MirrorStore
	Versions      VersionStore
	Threads       ThreadStore
	Cache         CacheStateStore
}

// GenNewID returns a new random UUID for primary keys.
func GenNewID() uuid.UUID { return uuid.New() }
