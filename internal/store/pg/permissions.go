package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oap-labs/oapd/internal/store"
)

// permTable maps a resource type to its permission table. The set is closed
// so the name can be spliced into SQL directly.
func permTable(rt store.ResourceType) string {
	switch rt {
	case store.ResourceGraph:
		return "graph_permissions"
	case store.ResourceAssistant:
		return "assistant_permissions"
	default:
		return "collection_permissions"
	}
}

type PGPermissionStore struct {
	db *sql.DB
}

func NewPGPermissionStore(db *sql.DB) *PGPermissionStore { return &PGPermissionStore{db: db} }

func (s *PGPermissionStore) Get(ctx context.Context, rt store.ResourceType, resourceID, userID string) (*store.Permission, error) {
	var p store.Permission
	err := s.db.QueryRowContext(ctx,
		`SELECT resource_id, user_id, level, granted_by, created_at, updated_at
		 FROM `+permTable(rt)+` WHERE resource_id = $1 AND user_id = $2`,
		resourceID, userID,
	).Scan(&p.ResourceID, &p.UserID, &p.Level, &p.GrantedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGPermissionStore) Upsert(ctx context.Context, rt store.ResourceType, p *store.Permission) (bool, error) {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	var created bool
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+permTable(rt)+` (resource_id, user_id, level, granted_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (resource_id, user_id) DO UPDATE SET
		   level = EXCLUDED.level, granted_by = EXCLUDED.granted_by, updated_at = EXCLUDED.updated_at
		 RETURNING (xmax = 0), created_at`,
		p.ResourceID, p.UserID, p.Level, p.GrantedBy, now,
	).Scan(&created, &p.CreatedAt)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *PGPermissionStore) Delete(ctx context.Context, rt store.ResourceType, resourceID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+permTable(rt)+` WHERE resource_id = $1 AND user_id = $2`,
		resourceID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGPermissionStore) List(ctx context.Context, rt store.ResourceType, resourceID string) ([]store.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id, user_id, level, granted_by, created_at, updated_at
		 FROM `+permTable(rt)+` WHERE resource_id = $1 ORDER BY created_at`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *PGPermissionStore) ListForUser(ctx context.Context, rt store.ResourceType, userID string) ([]store.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id, user_id, level, granted_by, created_at, updated_at
		 FROM `+permTable(rt)+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]store.Permission, error) {
	var result []store.Permission
	for rows.Next() {
		var p store.Permission
		if err := rows.Scan(&p.ResourceID, &p.UserID, &p.Level, &p.GrantedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PGPermissionStore) CountByLevel(ctx context.Context, rt store.ResourceType, resourceID string, l store.Level) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM `+permTable(rt)+` WHERE resource_id = $1 AND level = $2`,
		resourceID, l).Scan(&n)
	return n, err
}

func (s *PGPermissionStore) GrantToAllUsers(ctx context.Context, rt store.ResourceType, resourceID string, l store.Level, grantedBy string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+permTable(rt)+` (resource_id, user_id, level, granted_by, created_at, updated_at)
		 SELECT $1, u.id, $2, $3, $4, $4 FROM users u
		 ON CONFLICT (resource_id, user_id) DO NOTHING`,
		resourceID, l, grantedBy, time.Now())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGPermissionStore) GrantToUser(ctx context.Context, rt store.ResourceType, resourceID, userID string, l store.Level, grantedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+permTable(rt)+` (resource_id, user_id, level, granted_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (resource_id, user_id) DO NOTHING`,
		resourceID, userID, l, grantedBy, time.Now())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGPermissionStore) DeleteByGrantedBy(ctx context.Context, rt store.ResourceType, resourceID, grantedBy string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+permTable(rt)+` WHERE resource_id = $1 AND granted_by = $2`,
		resourceID, grantedBy)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
