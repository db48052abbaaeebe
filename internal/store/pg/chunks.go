package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/store"
)

type PGChunkStore struct {
	db *sql.DB
}

func NewPGChunkStore(db *sql.DB) *PGChunkStore { return &PGChunkStore{db: db} }

const chunkCols = `id, document_id, collection_id, content, metadata, chunk_index, created_at`

func scanChunk(row interface{ Scan(...any) error }, extra ...any) (*store.Chunk, error) {
	var c store.Chunk
	var docID uuid.NullUUID
	var meta []byte
	dest := []any{&c.ID, &docID, &c.CollectionID, &c.Content, &meta, &c.ChunkIndex, &c.CreatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if docID.Valid {
		id := docID.UUID
		c.DocumentID = &id
	}
	c.Metadata = json.RawMessage(meta)
	return &c, nil
}

func (s *PGChunkStore) InsertBatch(ctx context.Context, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, collection_id, content, metadata, chunk_index, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = store.GenNewID()
		}
		c.CreatedAt = now
		if _, err := stmt.ExecContext(ctx,
			c.ID, nilUUID(c.DocumentID), c.CollectionID, c.Content,
			jsonOrNull(c.Metadata), c.ChunkIndex, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGChunkStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkCols+` FROM chunks WHERE id = ANY($1::uuid[])`,
		"{"+strings.Join(strIDs, ",")+"}")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (s *PGChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]store.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkCols+` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]store.Chunk, error) {
	var result []store.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

var tokenSanitizer = regexp.MustCompile(`[^\p{L}\p{N}_ ]+`)

// KeywordSearch runs lexical search over the chunk tsvector column.
// Phrases (keywords containing spaces) match exactly via phraseto_tsquery;
// single tokens use prefix match; all keywords combine with OR (tsquery ||).
func (s *PGChunkStore) KeywordSearch(ctx context.Context, collectionID uuid.UUID, keywords []string, limit int) ([]store.ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	var exprs []string
	args := []any{collectionID}
	for _, kw := range keywords {
		kw = strings.TrimSpace(tokenSanitizer.ReplaceAllString(kw, " "))
		if kw == "" {
			continue
		}
		args = append(args, kw)
		if strings.Contains(kw, " ") {
			exprs = append(exprs, fmt.Sprintf("phraseto_tsquery('english', $%d)", len(args)))
		} else {
			exprs = append(exprs, fmt.Sprintf("to_tsquery('english', $%d || ':*')", len(args)))
		}
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	q := strings.Join(exprs, " || ")

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s, ts_rank(content_tsv, %s) AS score
		 FROM chunks
		 WHERE collection_id = $1 AND content_tsv @@ (%s)
		 ORDER BY score DESC, id
		 LIMIT %d`, chunkCols, q, q, limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChunkHit
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		result = append(result, store.ChunkHit{Chunk: *c, Score: score})
	}
	return result, rows.Err()
}

func (s *PGChunkStore) DeleteByCollection(ctx context.Context, collectionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection_id = $1`, collectionID)
	return err
}
