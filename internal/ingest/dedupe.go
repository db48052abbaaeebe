package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/store"
)

// SkipReason explains why an input was not ingested.
type SkipReason string

const (
	SkipExactDuplicate   SkipReason = "exact_duplicate"
	SkipDuplicateInBatch SkipReason = "duplicate_in_batch"
	SkipURLExists        SkipReason = "url_exists"
)

// DedupeAction is the outcome of a duplicate check.
type DedupeAction string

const (
	ActionIngest    DedupeAction = "ingest"
	ActionSkip      DedupeAction = "skip"
	ActionOverwrite DedupeAction = "overwrite"
)

// DedupeDecision is the result of checking one input against the
// collection and the current batch.
type DedupeDecision struct {
	Action DedupeAction
	Reason SkipReason
	// Existing is the document to supersede when Action is overwrite.
	Existing *store.Document
}

// ContentHash returns the canonical SHA-256 hex digest of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Deduper tracks content hashes within a batch and checks inputs
// against a collection's existing documents.
type Deduper struct {
	docs         store.DocumentStore
	collectionID uuid.UUID
	seen         map[string]bool
}

func NewDeduper(docs store.DocumentStore, collectionID uuid.UUID) *Deduper {
	return &Deduper{docs: docs, collectionID: collectionID, seen: map[string]bool{}}
}

// CheckFile decides what to do with a named file's content. A document
// with the same filename but a different (or missing) hash is marked
// for overwrite.
func (d *Deduper) CheckFile(ctx context.Context, filename string, hash string) (*DedupeDecision, error) {
	if d.seen[hash] {
		return &DedupeDecision{Action: ActionSkip, Reason: SkipDuplicateInBatch}, nil
	}
	d.seen[hash] = true

	if existing, err := d.findByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return &DedupeDecision{Action: ActionSkip, Reason: SkipExactDuplicate, Existing: existing}, nil
	}

	byName, err := d.docs.FindByFilename(ctx, d.collectionID, filename)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if byName != nil && byName.Meta().ContentHash != hash {
		return &DedupeDecision{Action: ActionOverwrite, Existing: byName}, nil
	}
	return &DedupeDecision{Action: ActionIngest}, nil
}

// CheckURL skips when the canonical URL or the content hash already
// exists in the collection.
func (d *Deduper) CheckURL(ctx context.Context, url string, hash string) (*DedupeDecision, error) {
	existing, err := d.docs.FindByURL(ctx, d.collectionID, url)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		return &DedupeDecision{Action: ActionSkip, Reason: SkipURLExists, Existing: existing}, nil
	}
	return d.CheckText(ctx, hash)
}

// CheckText skips on content-hash match only; titles are advisory.
func (d *Deduper) CheckText(ctx context.Context, hash string) (*DedupeDecision, error) {
	if d.seen[hash] {
		return &DedupeDecision{Action: ActionSkip, Reason: SkipDuplicateInBatch}, nil
	}
	d.seen[hash] = true

	existing, err := d.findByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DedupeDecision{Action: ActionSkip, Reason: SkipExactDuplicate, Existing: existing}, nil
	}
	return &DedupeDecision{Action: ActionIngest}, nil
}

func (d *Deduper) findByHash(ctx context.Context, hash string) (*store.Document, error) {
	doc, err := d.docs.FindByContentHash(ctx, d.collectionID, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}
