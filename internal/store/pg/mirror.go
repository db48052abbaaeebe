package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/store"
)

type PGMirrorStore struct {
	db *sql.DB
}

func NewPGMirrorStore(db *sql.DB) *PGMirrorStore { return &PGMirrorStore{db: db} }

// cacheColumn maps a cache domain to its counter column. Closed set, safe
// to splice into SQL.
func cacheColumn(d store.CacheDomain) string {
	switch d {
	case store.CacheGraphs:
		return "graphs_version"
	case store.CacheAssistants:
		return "assistants_version"
	case store.CacheSchemas:
		return "schemas_version"
	default:
		return "threads_version"
	}
}

func bumpCacheTx(ctx context.Context, tx *sql.Tx, d store.CacheDomain) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE cache_state SET `+cacheColumn(d)+` = `+cacheColumn(d)+` + 1 WHERE id = 1`)
	return err
}

// --- Graphs ---

const graphCols = `graph_id, name, description, assistants_count, schema_accessible,
	active, mirror_hash, last_seen_at, created_at, updated_at`

func scanGraph(row interface{ Scan(...any) error }) (*store.GraphMirror, error) {
	var g store.GraphMirror
	var desc *string
	err := row.Scan(&g.GraphID, &g.Name, &desc, &g.AssistantsCount, &g.SchemaAccessible,
		&g.Active, &g.MirrorHash, &g.LastSeenAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.Description = derefStr(desc)
	return &g, nil
}

func (s *PGMirrorStore) GetGraph(ctx context.Context, graphID string) (*store.GraphMirror, error) {
	g, err := scanGraph(s.db.QueryRowContext(ctx,
		`SELECT `+graphCols+` FROM graph_mirror WHERE graph_id = $1`, graphID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "graph %s not found", graphID)
	}
	return g, err
}

func (s *PGMirrorStore) UpsertGraph(ctx context.Context, g *store.GraphMirror) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now()
	var stored string
	err = tx.QueryRowContext(ctx,
		`SELECT mirror_hash FROM graph_mirror WHERE graph_id = $1 FOR UPDATE`, g.GraphID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO graph_mirror (`+graphCols+`)
			 VALUES ($1,$2,$3,$4,$5,true,$6,$7,$7,$7)`,
			g.GraphID, g.Name, nilStr(g.Description), g.AssistantsCount,
			g.SchemaAccessible, g.MirrorHash, now)
	case err != nil:
		return false, err
	case stored == g.MirrorHash:
		_, err = tx.ExecContext(ctx,
			`UPDATE graph_mirror SET last_seen_at = $1, active = true WHERE graph_id = $2`, now, g.GraphID)
		if err != nil {
			return false, err
		}
		return false, tx.Commit()
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE graph_mirror SET name = $1, description = $2, assistants_count = $3,
			   schema_accessible = $4, active = true, mirror_hash = $5, last_seen_at = $6, updated_at = $6
			 WHERE graph_id = $7`,
			g.Name, nilStr(g.Description), g.AssistantsCount, g.SchemaAccessible,
			g.MirrorHash, now, g.GraphID)
	}
	if err != nil {
		return false, err
	}
	if err := bumpCacheTx(ctx, tx, store.CacheGraphs); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *PGMirrorStore) ListGraphs(ctx context.Context, activeOnly bool) ([]store.GraphMirror, error) {
	query := `SELECT ` + graphCols + ` FROM graph_mirror`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY graph_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.GraphMirror
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *g)
	}
	return result, rows.Err()
}

func (s *PGMirrorStore) RefreshGraphAggregates(ctx context.Context, graphID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_mirror g SET
		   assistants_count = (SELECT count(*) FROM assistant_mirror a WHERE a.graph_id = g.graph_id),
		   schema_accessible = EXISTS (
		     SELECT 1 FROM assistant_mirror a
		     JOIN assistant_schemas s ON s.assistant_id = a.assistant_id
		     WHERE a.graph_id = g.graph_id),
		   last_seen_at = $1
		 WHERE g.graph_id = $2`, now, graphID)
	return err
}

func (s *PGMirrorStore) MarkGraphsInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE graph_mirror g SET active = false
		 WHERE g.active
		   AND NOT EXISTS (
		     SELECT 1 FROM assistant_mirror a
		     WHERE a.graph_id = g.graph_id AND a.last_seen_at >= $1)
		 RETURNING g.graph_id`, cutoff)
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

// --- Assistants ---

const assistantCols = `assistant_id, graph_id, name, description, config, metadata, context,
	version, tags, langgraph_created_at, langgraph_updated_at, mirror_hash, last_seen_at, updated_at`

func scanAssistant(row interface{ Scan(...any) error }) (*store.AssistantMirror, error) {
	var a store.AssistantMirror
	var desc *string
	var config, metadata, contextRaw, tags []byte
	err := row.Scan(&a.AssistantID, &a.GraphID, &a.Name, &desc, &config, &metadata, &contextRaw,
		&a.Version, &tags, &a.LanggraphCreatedAt, &a.LanggraphUpdatedAt,
		&a.MirrorHash, &a.LastSeenAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Description = derefStr(desc)
	a.Config = json.RawMessage(config)
	a.Metadata = json.RawMessage(metadata)
	a.Context = json.RawMessage(contextRaw)
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &a.Tags)
	}
	return &a, nil
}

func (s *PGMirrorStore) GetAssistant(ctx context.Context, id uuid.UUID) (*store.AssistantMirror, error) {
	a, err := scanAssistant(s.db.QueryRowContext(ctx,
		`SELECT `+assistantCols+` FROM assistant_mirror WHERE assistant_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "assistant %s not found", id)
	}
	return a, err
}

func (s *PGMirrorStore) UpsertAssistant(ctx context.Context, a *store.AssistantMirror) (bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	now := time.Now()
	var stored string
	err = tx.QueryRowContext(ctx,
		`SELECT mirror_hash FROM assistant_mirror WHERE assistant_id = $1 FOR UPDATE`,
		a.AssistantID).Scan(&stored)
	var isNew bool
	switch {
	case errors.Is(err, sql.ErrNoRows):
		isNew = true
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assistant_mirror (`+assistantCols+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
			a.AssistantID, a.GraphID, a.Name, nilStr(a.Description),
			jsonOrNull(a.Config), jsonOrNull(a.Metadata), jsonOrNull(a.Context),
			a.Version, jsonOrNull(a.Tags), a.LanggraphCreatedAt, a.LanggraphUpdatedAt,
			a.MirrorHash, now)
	case err != nil:
		return false, false, err
	case stored == a.MirrorHash:
		_, err = tx.ExecContext(ctx,
			`UPDATE assistant_mirror SET last_seen_at = $1 WHERE assistant_id = $2`, now, a.AssistantID)
		if err != nil {
			return false, false, err
		}
		return false, false, tx.Commit()
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE assistant_mirror SET graph_id = $1, name = $2, description = $3, config = $4,
			   metadata = $5, context = $6, version = $7, tags = $8,
			   langgraph_created_at = $9, langgraph_updated_at = $10,
			   mirror_hash = $11, last_seen_at = $12, updated_at = $12
			 WHERE assistant_id = $13`,
			a.GraphID, a.Name, nilStr(a.Description), jsonOrNull(a.Config),
			jsonOrNull(a.Metadata), jsonOrNull(a.Context), a.Version, jsonOrNull(a.Tags),
			a.LanggraphCreatedAt, a.LanggraphUpdatedAt, a.MirrorHash, now, a.AssistantID)
	}
	if err != nil {
		return false, false, err
	}
	if err := bumpCacheTx(ctx, tx, store.CacheAssistants); err != nil {
		return false, false, err
	}
	return isNew, true, tx.Commit()
}

func (s *PGMirrorStore) TouchAssistants(ctx context.Context, ids []uuid.UUID, seenAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE assistant_mirror SET last_seen_at = $1 WHERE assistant_id = ANY($2::uuid[])`,
		seenAt, "{"+strings.Join(strIDs, ",")+"}")
	return err
}

func (s *PGMirrorStore) ListAssistants(ctx context.Context, opts store.AssistantListOpts) ([]store.AssistantMirror, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	where := `WHERE 1=1`
	var args []any
	if opts.GraphID != "" {
		args = append(args, opts.GraphID)
		where += ` AND graph_id = $` + itoa(len(args))
	}
	if opts.HideTemplates {
		where += ` AND COALESCE(metadata->>'created_by', '') <> 'system'`
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM assistant_mirror `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assistantCols+` FROM assistant_mirror `+where+
			` ORDER BY name, assistant_id LIMIT `+itoa(opts.Limit)+` OFFSET `+itoa(opts.Offset),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.AssistantMirror
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *a)
	}
	return result, total, rows.Err()
}

func (s *PGMirrorStore) DeleteAssistant(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM assistant_mirror WHERE assistant_id = $1`, id)
	return err
}

// --- Schemas ---

func (s *PGMirrorStore) GetSchemas(ctx context.Context, assistantID uuid.UUID) (*store.AssistantSchemas, error) {
	var sc store.AssistantSchemas
	var input, config, state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT assistant_id, input_schema, config_schema, state_schema, schema_hash, updated_at
		 FROM assistant_schemas WHERE assistant_id = $1`, assistantID,
	).Scan(&sc.AssistantID, &input, &config, &state, &sc.SchemaHash, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "schemas for assistant %s not found", assistantID)
	}
	if err != nil {
		return nil, err
	}
	sc.InputSchema = json.RawMessage(input)
	sc.ConfigSchema = json.RawMessage(config)
	sc.StateSchema = json.RawMessage(state)
	return &sc, nil
}

func (s *PGMirrorStore) UpsertSchemas(ctx context.Context, sc *store.AssistantSchemas) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now()
	var stored string
	err = tx.QueryRowContext(ctx,
		`SELECT schema_hash FROM assistant_schemas WHERE assistant_id = $1 FOR UPDATE`,
		sc.AssistantID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assistant_schemas (assistant_id, input_schema, config_schema, state_schema, schema_hash, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			sc.AssistantID, jsonOrNull(sc.InputSchema), jsonOrNull(sc.ConfigSchema),
			jsonOrNull(sc.StateSchema), sc.SchemaHash, now)
	case err != nil:
		return false, err
	case stored == sc.SchemaHash:
		return false, tx.Commit()
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE assistant_schemas SET input_schema = $1, config_schema = $2, state_schema = $3,
			   schema_hash = $4, updated_at = $5
			 WHERE assistant_id = $6`,
			jsonOrNull(sc.InputSchema), jsonOrNull(sc.ConfigSchema), jsonOrNull(sc.StateSchema),
			sc.SchemaHash, now, sc.AssistantID)
	}
	if err != nil {
		return false, err
	}
	if err := bumpCacheTx(ctx, tx, store.CacheSchemas); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// --- Cleanup ---

// Cleanup deletes never touch rows updated after the cutoff: a row that
// changed recently is kept even when its last_seen_at looks stale.

func (s *PGMirrorStore) DeleteStaleAssistants(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assistant_mirror WHERE last_seen_at < $1 AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGMirrorStore) DeleteStaleGraphs(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_mirror g
		 WHERE g.last_seen_at < $1 AND g.updated_at < $1
		   AND NOT EXISTS (SELECT 1 FROM assistant_mirror a WHERE a.graph_id = g.graph_id)`,
		cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGMirrorStore) DeleteOrphanSchemas(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assistant_schemas s
		 WHERE NOT EXISTS (SELECT 1 FROM assistant_mirror a WHERE a.assistant_id = s.assistant_id)`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
