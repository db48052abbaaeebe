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

type PGCollectionStore struct {
	db *sql.DB
}

func NewPGCollectionStore(db *sql.DB) *PGCollectionStore { return &PGCollectionStore{db: db} }

func (s *PGCollectionStore) Create(ctx context.Context, c *store.Collection) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.TableID == "" {
		c.TableID = "col_" + c.ID.String()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, metadata, owner_id, table_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		c.ID, c.Name, jsonOrNull(c.Metadata), c.OwnerID, c.TableID, now)
	return err
}

func (s *PGCollectionStore) Get(ctx context.Context, id uuid.UUID) (*store.Collection, error) {
	var c store.Collection
	var meta []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, metadata, owner_id, table_id, created_at, updated_at
		 FROM collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &meta, &c.OwnerID, &c.TableID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "collection %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	c.Metadata = json.RawMessage(meta)
	return &c, nil
}

func (s *PGCollectionStore) Update(ctx context.Context, c *store.Collection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET name = $1, metadata = $2, owner_id = $3, updated_at = $4 WHERE id = $5`,
		c.Name, jsonOrNull(c.Metadata), c.OwnerID, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "collection %s not found", c.ID)
	}
	return nil
}

func (s *PGCollectionStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "collection %s not found", id)
	}
	return nil
}

func (s *PGCollectionStore) ListForUser(ctx context.Context, userID string) ([]store.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT c.id, c.name, c.metadata, c.owner_id, c.table_id, c.created_at, c.updated_at
		 FROM collections c
		 LEFT JOIN collection_permissions cp ON cp.resource_id = c.id::text AND cp.user_id = $1
		 WHERE c.owner_id = $1 OR cp.user_id IS NOT NULL
		 ORDER BY c.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Collection
	for rows.Next() {
		var c store.Collection
		var meta []byte
		if err := rows.Scan(&c.ID, &c.Name, &meta, &c.OwnerID, &c.TableID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Metadata = json.RawMessage(meta)
		result = append(result, c)
	}
	return result, rows.Err()
}

type PGDocumentStore struct {
	db *sql.DB
}

func NewPGDocumentStore(db *sql.DB) *PGDocumentStore { return &PGDocumentStore{db: db} }

const documentCols = `id, collection_id, content, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*store.Document, error) {
	var d store.Document
	var meta []byte
	if err := row.Scan(&d.ID, &d.CollectionID, &d.Content, &meta, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Metadata = json.RawMessage(meta)
	return &d, nil
}

func (s *PGDocumentStore) Create(ctx context.Context, d *store.Document) error {
	if d.ID == uuid.Nil {
		d.ID = store.GenNewID()
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection_id, content, metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)`,
		d.ID, d.CollectionID, d.Content, jsonOrNull(d.Metadata), now)
	return err
}

func (s *PGDocumentStore) Get(ctx context.Context, id uuid.UUID) (*store.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "document %s not found", id)
	}
	return d, err
}

func (s *PGDocumentStore) Update(ctx context.Context, d *store.Document) error {
	d.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = $1, metadata = $2, updated_at = $3 WHERE id = $4`,
		d.Content, jsonOrNull(d.Metadata), d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "document %s not found", d.ID)
	}
	return nil
}

// Delete removes the document and detaches its chunks. Chunks survive as
// orphan legacy rows so historical queries keep working.
func (s *PGDocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE chunks SET document_id = NULL WHERE document_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "document %s not found", id)
	}
	return tx.Commit()
}

func (s *PGDocumentStore) ListByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]store.Document, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE collection_id = $1`, collectionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentCols+` FROM documents WHERE collection_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, collectionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *d)
	}
	return result, total, rows.Err()
}

func (s *PGDocumentStore) FindByContentHash(ctx context.Context, collectionID uuid.UUID, hash string) (*store.Document, error) {
	return s.findByMetaKey(ctx, collectionID, "content_hash", hash)
}

func (s *PGDocumentStore) FindByFilename(ctx context.Context, collectionID uuid.UUID, filename string) (*store.Document, error) {
	return s.findByMetaKey(ctx, collectionID, "original_filename", filename)
}

func (s *PGDocumentStore) FindByURL(ctx context.Context, collectionID uuid.UUID, url string) (*store.Document, error) {
	return s.findByMetaKey(ctx, collectionID, "url", url)
}

func (s *PGDocumentStore) findByMetaKey(ctx context.Context, collectionID uuid.UUID, key, val string) (*store.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentCols+` FROM documents
		 WHERE collection_id = $1 AND metadata->>'`+key+`' = $2
		 ORDER BY created_at DESC LIMIT 1`, collectionID, val))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}
