package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/store"
)

type PGJobStore struct {
	db *sql.DB
}

func NewPGJobStore(db *sql.DB) *PGJobStore { return &PGJobStore{db: db} }

const jobCols = `id, user_id, collection_id, type, status, input_data, processing_options,
	result_data, progress_percent, current_step, total_steps, error_message,
	documents_processed, chunks_created, estimated_seconds,
	created_at, started_at, completed_at, processing_time_seconds`

func scanJob(row interface{ Scan(...any) error }) (*store.Job, error) {
	var j store.Job
	var input, options, result []byte
	var step, errMsg *string
	var startedAt, completedAt sql.NullTime
	var procSecs sql.NullFloat64
	err := row.Scan(&j.ID, &j.UserID, &j.CollectionID, &j.Type, &j.Status,
		&input, &options, &result, &j.ProgressPercent, &step, &j.TotalSteps,
		&errMsg, &j.DocumentsProcessed, &j.ChunksCreated, &j.EstimatedSeconds,
		&j.CreatedAt, &startedAt, &completedAt, &procSecs)
	if err != nil {
		return nil, err
	}
	j.InputData = json.RawMessage(input)
	j.ProcessingOptions = json.RawMessage(options)
	j.ResultData = json.RawMessage(result)
	j.CurrentStep = derefStr(step)
	j.ErrorMessage = derefStr(errMsg)
	j.StartedAt = scanNullTime(startedAt)
	j.CompletedAt = scanNullTime(completedAt)
	if procSecs.Valid {
		v := procSecs.Float64
		j.ProcessingTimeSecs = &v
	}
	return &j, nil
}

func (s *PGJobStore) Create(ctx context.Context, j *store.Job) error {
	if j.ID == uuid.Nil {
		j.ID = store.GenNewID()
	}
	if j.Status == "" {
		j.Status = store.JobPending
	}
	j.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, collection_id, type, status, input_data, processing_options,
		   progress_percent, current_step, total_steps, estimated_seconds, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		j.ID, j.UserID, j.CollectionID, j.Type, j.Status,
		jsonOrNull(j.InputData), jsonOrNull(j.ProcessingOptions),
		j.ProgressPercent, nilStr(j.CurrentStep), j.TotalSteps, j.EstimatedSeconds, j.CreatedAt)
	return err
}

func (s *PGJobStore) Get(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "job %s not found", id)
	}
	return j, err
}

func (s *PGJobStore) List(ctx context.Context, opts store.JobListOpts) ([]store.Job, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	where := `WHERE 1=1`
	var args []any
	if opts.UserID != "" {
		args = append(args, opts.UserID)
		where += ` AND user_id = $` + itoa(len(args))
	}
	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += ` AND status = $` + itoa(len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM jobs `+where+
			` ORDER BY created_at DESC LIMIT `+itoa(opts.Limit)+` OFFSET `+itoa(opts.Offset),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *j)
	}
	return result, total, rows.Err()
}

func (s *PGJobStore) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', started_at = $1 WHERE id = $2 AND status = 'pending'`,
		startedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.Conflict, "job %s is not pending", id)
	}
	return nil
}

func (s *PGJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, step string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_step = $1, progress_percent = $2 WHERE id = $3`,
		step, percent, id)
	return err
}

func (s *PGJobStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage, docs, chunks int, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result_data = $1, documents_processed = $2,
		   chunks_created = $3, progress_percent = 100, completed_at = $4,
		   processing_time_seconds = EXTRACT(EPOCH FROM ($4 - started_at))
		 WHERE id = $5`,
		jsonOrNull(result), docs, chunks, completedAt, id)
	return err
}

func (s *PGJobStore) Fail(ctx context.Context, id uuid.UUID, msg string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $1, completed_at = $2,
		   processing_time_seconds = EXTRACT(EPOCH FROM ($2 - started_at))
		 WHERE id = $3`,
		msg, completedAt, id)
	return err
}

func (s *PGJobStore) Cancel(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = $1
		 WHERE id = $2 AND status IN ('pending','processing')`,
		completedAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
