package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Collection groups documents and their chunks under one vector namespace.
type Collection struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	OwnerID   string          `json:"owner_id"`
	TableID   string          `json:"table_id"` // vector index collection name
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SourceType is where a document's content came from.
type SourceType string

const (
	SourceFile    SourceType = "file"
	SourceURL     SourceType = "url"
	SourceYouTube SourceType = "youtube"
	SourceText    SourceType = "text"
)

// Document is one ingested unit of content.
type Document struct {
	ID           uuid.UUID       `json:"id"`
	CollectionID uuid.UUID       `json:"collection_id"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DocumentMeta is the typed projection of the metadata fields the system
// reads back out of a document's JSON blob.
type DocumentMeta struct {
	ContentHash      string     `json:"content_hash,omitempty"`
	OriginalFilename string     `json:"original_filename,omitempty"`
	SourceType       SourceType `json:"source_type,omitempty"`
	Title            string     `json:"title,omitempty"`
	URL              string     `json:"url,omitempty"`
}

// Meta decodes the typed metadata projection. Unknown keys are preserved in
// the raw blob and ignored here.
func (d *Document) Meta() DocumentMeta {
	var m DocumentMeta
	if len(d.Metadata) > 0 {
		_ = json.Unmarshal(d.Metadata, &m)
	}
	return m
}

// Chunk is a fragment of a document. The embedding vector lives in the
// vector index; the row here backs keyword search and sibling walks.
// DocumentID is nullable for legacy chunks written before documents existed.
type Chunk struct {
	ID           uuid.UUID       `json:"id"`
	DocumentID   *uuid.UUID      `json:"document_id,omitempty"`
	CollectionID uuid.UUID       `json:"collection_id"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ChunkIndex   int             `json:"chunk_index"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ChunkHit is a chunk with a lexical relevance score.
type ChunkHit struct {
	Chunk
	Score float64 `json:"score"`
}

// CollectionStore persists collections.
type CollectionStore interface {
	Create(ctx context.Context, c *Collection) error
	Get(ctx context.Context, id uuid.UUID) (*Collection, error)
	Update(ctx context.Context, c *Collection) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListForUser returns collections the user holds any permission on or
	// owns directly.
	ListForUser(ctx context.Context, userID string) ([]Collection, error)
}

// DocumentStore persists documents.
type DocumentStore interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	Update(ctx context.Context, d *Document) error
	// Delete removes the document and nulls document_id on its chunks so
	// legacy queries keep working.
	Delete(ctx context.Context, id uuid.UUID) error
	ListByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]Document, int, error)
	// FindByContentHash matches metadata->>'content_hash' within a collection.
	FindByContentHash(ctx context.Context, collectionID uuid.UUID, hash string) (*Document, error)
	// FindByFilename matches metadata->>'original_filename' within a collection.
	FindByFilename(ctx context.Context, collectionID uuid.UUID, filename string) (*Document, error)
	// FindByURL matches metadata->>'url' within a collection.
	FindByURL(ctx context.Context, collectionID uuid.UUID, url string) (*Document, error)
}

// ChunkStore persists chunk rows and serves keyword search.
type ChunkStore interface {
	InsertBatch(ctx context.Context, chunks []Chunk) error
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error)
	// ListByDocument returns the document's chunks ordered by chunk_index.
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Chunk, error)
	// KeywordSearch runs full-text search over chunk content in a collection.
	// Phrases match exactly, single tokens use prefix match, multiple
	// keywords combine with OR; ranking is ts_rank.
	KeywordSearch(ctx context.Context, collectionID uuid.UUID, keywords []string, limit int) ([]ChunkHit, error)
	DeleteByCollection(ctx context.Context, collectionID uuid.UUID) error
}
