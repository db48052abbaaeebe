package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore { return &PGUserStore{db: db} }

func (s *PGUserStore) Ensure(ctx context.Context, u *store.User) (bool, error) {
	now := time.Now()
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	var created bool
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, display_name, role, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email, display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
		 RETURNING (xmax = 0), role, created_at`,
		u.ID, u.Email, u.DisplayName, u.Role, now,
	).Scan(&created, &u.Role, &u.CreatedAt)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *PGUserStore) Get(ctx context.Context, id string) (*store.User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getBy(ctx, "email", email)
}

func (s *PGUserStore) getBy(ctx context.Context, col, val string) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, role, created_at, updated_at FROM users WHERE `+col+` = $1`,
		val,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user %s not found", val)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGUserStore) List(ctx context.Context, limit, offset int) ([]store.User, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name, role, created_at, updated_at
		 FROM users ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, u)
	}
	return result, total, rows.Err()
}

func (s *PGUserStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGUserStore) UpdateRole(ctx context.Context, id string, role auth.Role) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`, role, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "user %s not found", id)
	}
	return nil
}

func (s *PGUserStore) UpdateProfile(ctx context.Context, id, email, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = $1, display_name = $2, updated_at = $3 WHERE id = $4`,
		email, displayName, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "user %s not found", id)
	}
	return nil
}
