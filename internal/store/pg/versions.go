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

type PGVersionStore struct {
	db *sql.DB
}

func NewPGVersionStore(db *sql.DB) *PGVersionStore { return &PGVersionStore{db: db} }

const versionCols = `assistant_id, version, name, description, config, metadata, tags,
	langgraph_created_at, commit_message, created_by, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*store.AssistantVersion, error) {
	var v store.AssistantVersion
	var desc, commit, createdBy *string
	var config, metadata, tags []byte
	err := row.Scan(&v.AssistantID, &v.Version, &v.Name, &desc, &config, &metadata, &tags,
		&v.LanggraphCreatedAt, &commit, &createdBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Description = derefStr(desc)
	v.Config = json.RawMessage(config)
	v.Metadata = json.RawMessage(metadata)
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &v.Tags)
	}
	v.CommitMessage = derefStr(commit)
	v.CreatedBy = derefStr(createdBy)
	return &v, nil
}

func (s *PGVersionStore) Insert(ctx context.Context, v *store.AssistantVersion) (bool, error) {
	v.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assistant_versions (`+versionCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (assistant_id, version) DO NOTHING`,
		v.AssistantID, v.Version, v.Name, nilStr(v.Description),
		jsonOrNull(v.Config), jsonOrNull(v.Metadata), jsonOrNull(v.Tags),
		v.LanggraphCreatedAt, nilStr(v.CommitMessage), nilStr(v.CreatedBy), v.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGVersionStore) Get(ctx context.Context, assistantID uuid.UUID, version int) (*store.AssistantVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionCols+` FROM assistant_versions WHERE assistant_id = $1 AND version = $2`,
		assistantID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "version %d of assistant %s not found", version, assistantID)
	}
	return v, err
}

func (s *PGVersionStore) List(ctx context.Context, assistantID uuid.UUID) ([]store.AssistantVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionCols+` FROM assistant_versions
		 WHERE assistant_id = $1 ORDER BY version DESC`, assistantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.AssistantVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

func (s *PGVersionStore) DeleteForAssistant(ctx context.Context, assistantID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assistant_versions WHERE assistant_id = $1`, assistantID)
	return err
}
