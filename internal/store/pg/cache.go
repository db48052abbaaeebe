package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/oap-labs/oapd/internal/store"
)

type PGCacheStateStore struct {
	db *sql.DB
}

func NewPGCacheStateStore(db *sql.DB) *PGCacheStateStore { return &PGCacheStateStore{db: db} }

func (s *PGCacheStateStore) Get(ctx context.Context) (*store.CacheState, error) {
	var cs store.CacheState
	var lastSynced sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT graphs_version, assistants_version, schemas_version, threads_version, last_synced_at
		 FROM cache_state WHERE id = 1`,
	).Scan(&cs.GraphsVersion, &cs.AssistantsVersion, &cs.SchemasVersion, &cs.ThreadsVersion, &lastSynced)
	if err != nil {
		return nil, err
	}
	cs.LastSyncedAt = scanNullTime(lastSynced)
	return &cs, nil
}

func (s *PGCacheStateStore) Increment(ctx context.Context, d store.CacheDomain) (int64, error) {
	col := cacheColumn(d)
	var v int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE cache_state SET `+col+` = `+col+` + 1 WHERE id = 1 RETURNING `+col).Scan(&v)
	return v, err
}

func (s *PGCacheStateStore) SetLastSynced(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_state SET last_synced_at = $1 WHERE id = 1`, t)
	return err
}
