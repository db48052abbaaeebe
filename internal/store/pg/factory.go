package pg

import (
	"database/sql"
	"fmt"

	"github.com/oap-labs/oapd/internal/store"
)

// NewPGStores creates all stores backed by Postgres.
func NewPGStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewStoresWithDB(db), db, nil
}

// NewStoresWithDB wires stores onto an existing connection pool.
func NewStoresWithDB(db *sql.DB) *store.Stores {
	return &store.Stores{
		Users:         NewPGUserStore(db),
		Permissions:   NewPGPermissionStore(db),
		Public:        NewPGPublicPermissionStore(db),
		Notifications: NewPGNotificationStore(db),
		Collections:   NewPGCollectionStore(db),
		Documents:     NewPGDocumentStore(db),
		Chunks:        NewPGChunkStore(db),
		Jobs:          NewPGJobStore(db),
		Mirror:        NewPGMirrorStore(db),
		Versions:      NewPGVersionStore(db),
		Threads:       NewPGThreadStore(db),
		Cache:         NewPGCacheStateStore(db),
	}
}
