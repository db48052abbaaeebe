package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/store"
)

type PGPublicPermissionStore struct {
	db *sql.DB
}

func NewPGPublicPermissionStore(db *sql.DB) *PGPublicPermissionStore {
	return &PGPublicPermissionStore{db: db}
}

const publicCols = `id, resource_type, resource_id, level, created_by, created_at, revoked_at, revoke_mode, notes`

func scanPublic(row interface{ Scan(...any) error }) (*store.PublicPermission, error) {
	var p store.PublicPermission
	var revokedAt sql.NullTime
	var mode, notes *string
	err := row.Scan(&p.ID, &p.ResourceType, &p.ResourceID, &p.Level, &p.CreatedBy, &p.CreatedAt, &revokedAt, &mode, &notes)
	if err != nil {
		return nil, err
	}
	p.RevokedAt = scanNullTime(revokedAt)
	if mode != nil {
		m := store.RevokeMode(*mode)
		p.RevokeMode = &m
	}
	p.Notes = derefStr(notes)
	return &p, nil
}

func (s *PGPublicPermissionStore) GetActive(ctx context.Context, rt store.ResourceType, resourceID string) (*store.PublicPermission, error) {
	p, err := scanPublic(s.db.QueryRowContext(ctx,
		`SELECT `+publicCols+` FROM public_permissions
		 WHERE resource_type = $1 AND resource_id = $2 AND revoked_at IS NULL`,
		rt, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// CreateWithFanout inserts the public row and materializes per-user grants
// in one transaction. The partial unique index rejects a second active row.
func (s *PGPublicPermissionStore) CreateWithFanout(ctx context.Context, pp *store.PublicPermission) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	pp.CreatedAt = time.Now()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO public_permissions (resource_type, resource_id, level, created_by, created_at, notes)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		pp.ResourceType, pp.ResourceID, pp.Level, pp.CreatedBy, pp.CreatedAt, nilStr(pp.Notes),
	).Scan(&pp.ID)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+permTable(pp.ResourceType)+` (resource_id, user_id, level, granted_by, created_at, updated_at)
		 SELECT $1, u.id, $2, $3, $4, $4 FROM users u
		 ON CONFLICT (resource_id, user_id) DO NOTHING`,
		pp.ResourceID, pp.Level, store.GrantedBySystemPublic, pp.CreatedAt)
	if err != nil {
		return 0, err
	}
	granted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(granted), nil
}

// Revoke stamps the newest public row for the target with the mode. The row
// may already be revoked future_only when upgrading to revoke_all; in that
// case only the per-user deletions run.
func (s *PGPublicPermissionStore) Revoke(ctx context.Context, rt store.ResourceType, resourceID string, mode store.RevokeMode) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, revoke_mode FROM public_permissions
		 WHERE resource_type = $1 AND resource_id = $2
		 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`,
		rt, resourceID).Scan(&id, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.New(apperr.NotFound, "no public permission for %s %s", rt, resourceID)
	}
	if err != nil {
		return 0, err
	}
	if current.Valid && store.RevokeMode(current.String) == store.RevokeAll {
		return 0, apperr.New(apperr.Conflict, "public permission for %s %s already revoked", rt, resourceID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE public_permissions SET revoked_at = COALESCE(revoked_at, $1), revoke_mode = $2 WHERE id = $3`,
		time.Now(), mode, id)
	if err != nil {
		return 0, err
	}

	var removed int64
	if mode == store.RevokeAll {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM `+permTable(rt)+` WHERE resource_id = $1 AND granted_by = $2`,
			resourceID, store.GrantedBySystemPublic)
		if err != nil {
			return 0, err
		}
		removed, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *PGPublicPermissionStore) Reinvoke(ctx context.Context, rt store.ResourceType, resourceID string) (*store.PublicPermission, error) {
	p, err := scanPublic(s.db.QueryRowContext(ctx,
		`UPDATE public_permissions SET revoked_at = NULL, revoke_mode = NULL
		 WHERE id = (SELECT id FROM public_permissions
		             WHERE resource_type = $1 AND resource_id = $2 AND revoked_at IS NOT NULL
		             ORDER BY created_at DESC LIMIT 1)
		 RETURNING `+publicCols,
		rt, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "no revoked public permission for %s %s", rt, resourceID)
	}
	return p, err
}

func (s *PGPublicPermissionStore) List(ctx context.Context, rt store.ResourceType) ([]store.PublicPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+publicCols+` FROM public_permissions WHERE resource_type = $1 ORDER BY created_at DESC`, rt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublic(rows)
}

func (s *PGPublicPermissionStore) ListActive(ctx context.Context) ([]store.PublicPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+publicCols+` FROM public_permissions WHERE revoked_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublic(rows)
}

func collectPublic(rows *sql.Rows) ([]store.PublicPermission, error) {
	var result []store.PublicPermission
	for rows.Next() {
		p, err := scanPublic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}
