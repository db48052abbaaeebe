// Package collections implements collection CRUD, the chunk write path,
// and semantic/keyword/hybrid search with context expansion.
package collections

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/providers"
	"github.com/oap-labs/oapd/internal/store"
	"github.com/oap-labs/oapd/internal/vector"
)

// PermChecker is the slice of the permission engine the service needs.
type PermChecker interface {
	CanAccess(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, level store.Level) (bool, error)
}

// Service owns collections, documents, and chunks.
type Service struct {
	colls        store.CollectionStore
	docs         store.DocumentStore
	chunks       store.ChunkStore
	perms        store.PermissionStore
	index        vector.Index
	embedder     providers.Embedder
	access       PermChecker
	embedWorkers int
	log          *slog.Logger
}

func NewService(colls store.CollectionStore, docs store.DocumentStore, chunks store.ChunkStore, perms store.PermissionStore, index vector.Index, embedder providers.Embedder, access PermChecker, log *slog.Logger) *Service {
	return &Service{
		colls:        colls,
		docs:         docs,
		chunks:       chunks,
		perms:        perms,
		index:        index,
		embedder:     embedder,
		access:       access,
		embedWorkers: 2,
		log:          log,
	}
}

// WithEmbedWorkers bounds concurrent embedding batches during Upsert.
func (s *Service) WithEmbedWorkers(n int) *Service {
	if n > 0 {
		s.embedWorkers = n
	}
	return s
}

// Create makes a collection owned by the actor, provisions its vector
// namespace, and grants the creator an owner permission row.
func (s *Service) Create(ctx context.Context, actor auth.Actor, name string, metadata json.RawMessage) (*store.Collection, error) {
	if name == "" {
		return nil, apperr.New(apperr.InvalidInput, "collection name is required")
	}
	id := store.GenNewID()
	c := &store.Collection{
		ID:       id,
		Name:     name,
		Metadata: metadata,
		OwnerID:  actor.UserID,
		TableID:  "col_" + id.String(),
	}
	if err := s.colls.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.index.EnsureCollection(ctx, c.TableID, s.embedder.Dimensions()); err != nil {
		return nil, err
	}
	if _, err := s.perms.Upsert(ctx, store.ResourceCollection, &store.Permission{
		ResourceID: id.String(),
		UserID:     actor.UserID,
		Level:      store.LevelOwner,
		GrantedBy:  actor.UserID,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	s.log.Info("collection created", "id", id, "name", name, "owner", actor.UserID)
	return c, nil
}

// Get returns the collection if the actor holds any permission on it.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*store.Collection, error) {
	if err := s.requireLevel(ctx, actor, id, store.LevelViewer); err != nil {
		return nil, err
	}
	return s.getCollection(ctx, id)
}

// List returns collections the actor can see.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]store.Collection, error) {
	return s.colls.ListForUser(ctx, actor.UserID)
}

// Update renames a collection or replaces its metadata. Editor required.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, name string, metadata json.RawMessage) (*store.Collection, error) {
	if err := s.requireLevel(ctx, actor, id, store.LevelEditor); err != nil {
		return nil, err
	}
	c, err := s.getCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		c.Name = name
	}
	if metadata != nil {
		c.Metadata = metadata
	}
	if err := s.colls.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the collection, its rows, and its vector namespace.
// Owner required.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := s.requireLevel(ctx, actor, id, store.LevelOwner); err != nil {
		return err
	}
	c, err := s.getCollection(ctx, id)
	if err != nil {
		return err
	}
	if err := s.chunks.DeleteByCollection(ctx, id); err != nil {
		return err
	}
	if err := s.index.DropCollection(ctx, c.TableID); err != nil {
		s.log.Warn("drop vector collection failed", "collection", id, "error", err)
	}
	if err := s.colls.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("collection deleted", "id", id, "by", actor.UserID)
	return nil
}

// ListDocuments pages the collection's documents. Viewer required.
func (s *Service) ListDocuments(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, limit, offset int) ([]store.Document, int, error) {
	if err := s.requireLevel(ctx, actor, collectionID, store.LevelViewer); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.docs.ListByCollection(ctx, collectionID, limit, offset)
}

// GetDocument returns one document. Viewer required.
func (s *Service) GetDocument(ctx context.Context, actor auth.Actor, collectionID, docID uuid.UUID) (*store.Document, error) {
	if err := s.requireLevel(ctx, actor, collectionID, store.LevelViewer); err != nil {
		return nil, err
	}
	d, err := s.docs.Get(ctx, docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "document %s not found", docID)
	}
	if err != nil {
		return nil, err
	}
	if d.CollectionID != collectionID {
		return nil, apperr.New(apperr.NotFound, "document %s not in collection %s", docID, collectionID)
	}
	return d, nil
}

// DeleteDocument removes a document, its chunk links, and its vectors.
// Editor required.
func (s *Service) DeleteDocument(ctx context.Context, actor auth.Actor, collectionID, docID uuid.UUID) error {
	if err := s.requireLevel(ctx, actor, collectionID, store.LevelEditor); err != nil {
		return err
	}
	c, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if _, err := s.GetDocument(ctx, actor, collectionID, docID); err != nil {
		return err
	}
	if err := s.index.DeleteByDocument(ctx, c.TableID, docID.String()); err != nil {
		return err
	}
	return s.docs.Delete(ctx, docID)
}

// ChunkInput is one pre-chunked piece of content for Upsert.
type ChunkInput struct {
	Content    string
	Metadata   map[string]interface{}
	DocumentID *uuid.UUID
	ChunkIndex int
}

// Upsert embeds chunks and writes them to the vector index and the
// chunk table. Each stored chunk's metadata is backfilled with its own
// id, collection id, and document id for join integrity. Editor
// required. At-least-once: callers dedupe via content hashes upstream.
func (s *Service) Upsert(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, inputs []ChunkInput) ([]store.Chunk, error) {
	if err := s.requireLevel(ctx, actor, collectionID, store.LevelEditor); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	c, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = in.Content
	}
	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "embed %d chunks", len(inputs))
	}

	now := time.Now().UTC()
	rows := make([]store.Chunk, len(inputs))
	points := make([]vector.Point, len(inputs))
	for i, in := range inputs {
		id := store.GenNewID()

		meta := map[string]interface{}{}
		for k, v := range in.Metadata {
			meta[k] = v
		}
		meta["chunk_id"] = id.String()
		meta["collection_id"] = collectionID.String()
		meta["chunk_index"] = in.ChunkIndex
		if in.DocumentID != nil {
			meta["document_id"] = in.DocumentID.String()
		}
		rawMeta, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}

		rows[i] = store.Chunk{
			ID:           id,
			DocumentID:   in.DocumentID,
			CollectionID: collectionID,
			Content:      in.Content,
			Metadata:     rawMeta,
			ChunkIndex:   in.ChunkIndex,
			CreatedAt:    now,
		}

		payload := map[string]interface{}{
			"collection_id": collectionID.String(),
			"chunk_index":   in.ChunkIndex,
		}
		if in.DocumentID != nil {
			payload["document_id"] = in.DocumentID.String()
		}
		points[i] = vector.Point{ID: id.String(), Vector: vectors[i], Payload: payload}
	}

	if err := s.index.Upsert(ctx, c.TableID, points); err != nil {
		return nil, err
	}
	if err := s.chunks.InsertBatch(ctx, rows); err != nil {
		return nil, err
	}
	s.log.Info("chunks upserted", "collection", collectionID, "count", len(rows))
	return rows, nil
}

// embedBatchSize is the number of texts sent per provider call.
const embedBatchSize = 64

// embedAll embeds texts in parallel batches, preserving input order.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedWorkers)
	for start := 0; start < len(texts); start += embedBatchSize {
		start := start
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			batch, err := s.embedder.Embed(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// CreateDocument persists a document row. Used by the ingestion
// pipeline before chunk upserts.
func (s *Service) CreateDocument(ctx context.Context, actor auth.Actor, d *store.Document) error {
	if err := s.requireLevel(ctx, actor, d.CollectionID, store.LevelEditor); err != nil {
		return err
	}
	return s.docs.Create(ctx, d)
}

func (s *Service) getCollection(ctx context.Context, id uuid.UUID) (*store.Collection, error) {
	c, err := s.colls.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "collection %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) requireLevel(ctx context.Context, actor auth.Actor, id uuid.UUID, level store.Level) error {
	ok, err := s.access.CanAccess(ctx, actor, store.ResourceCollection, id.String(), level)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "%s access required on collection %s", level, id)
	}
	return nil
}
