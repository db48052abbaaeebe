package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/store"
)

type PGThreadStore struct {
	db *sql.DB
}

func NewPGThreadStore(db *sql.DB) *PGThreadStore { return &PGThreadStore{db: db} }

const threadCols = `thread_id, user_id, name, summary, user_renamed, needs_naming, last_naming_at, last_message_at`

func scanThread(row interface{ Scan(...any) error }) (*store.Thread, error) {
	var t store.Thread
	var name, summary *string
	var lastNaming sql.NullTime
	err := row.Scan(&t.ThreadID, &t.UserID, &name, &summary, &t.UserRenamed,
		&t.NeedsNaming, &lastNaming, &t.LastMessageAt)
	if err != nil {
		return nil, err
	}
	t.Name = derefStr(name)
	t.Summary = derefStr(summary)
	t.LastNamingAt = scanNullTime(lastNaming)
	return &t, nil
}

func (s *PGThreadStore) Upsert(ctx context.Context, t *store.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (`+threadCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (thread_id) DO UPDATE SET
		   user_id = EXCLUDED.user_id, last_message_at = EXCLUDED.last_message_at`,
		t.ThreadID, t.UserID, nilStr(t.Name), nilStr(t.Summary),
		t.UserRenamed, t.NeedsNaming, nilTime(t.LastNamingAt), t.LastMessageAt)
	return err
}

func (s *PGThreadStore) Get(ctx context.Context, threadID string) (*store.Thread, error) {
	t, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT `+threadCols+` FROM threads WHERE thread_id = $1`, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "thread %s not found", threadID)
	}
	return t, err
}

func (s *PGThreadStore) ListNeedingNaming(ctx context.Context, cutoff time.Time, limit int) ([]store.Thread, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadCols+` FROM threads
		 WHERE needs_naming AND NOT user_renamed
		   AND (last_naming_at IS NULL OR last_naming_at < $1)
		 ORDER BY last_message_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// ApplyNaming writes the generated name/summary and bumps threads_version in
// one transaction. The user_renamed guard is enforced in SQL so a racing
// manual rename always wins.
func (s *PGThreadStore) ApplyNaming(ctx context.Context, threadID, name, summary string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE threads SET name = $1, summary = $2, needs_naming = false, last_naming_at = $3
		 WHERE thread_id = $4 AND NOT user_renamed`,
		name, summary, at, threadID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, tx.Commit()
	}
	if err := bumpCacheTx(ctx, tx, store.CacheThreads); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *PGThreadStore) TouchNamingAttempt(ctx context.Context, threadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET last_naming_at = $1 WHERE thread_id = $2`, at, threadID)
	return err
}

func (s *PGThreadStore) SetUserRenamed(ctx context.Context, threadID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET name = $1, user_renamed = true, needs_naming = false WHERE thread_id = $2`,
		name, threadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "thread %s not found", threadID)
	}
	return nil
}

func (s *PGThreadStore) MarkNeedsNaming(ctx context.Context, threadID, userID string, messageAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, user_id, user_renamed, needs_naming, last_message_at)
		 VALUES ($1,$2,false,true,$3)
		 ON CONFLICT (thread_id) DO UPDATE SET
		   needs_naming = (NOT threads.user_renamed), last_message_at = EXCLUDED.last_message_at`,
		threadID, userID, messageAt)
	return err
}
