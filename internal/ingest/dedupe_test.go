package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/store"
)

type fakeDocs struct {
	docs map[uuid.UUID]*store.Document
}

func newFakeDocs() *fakeDocs { return &fakeDocs{docs: map[uuid.UUID]*store.Document{}} }

func (f *fakeDocs) add(collectionID uuid.UUID, meta store.DocumentMeta) *store.Document {
	raw, _ := json.Marshal(meta)
	d := &store.Document{ID: uuid.New(), CollectionID: collectionID, Metadata: raw}
	f.docs[d.ID] = d
	return d
}

func (f *fakeDocs) Create(ctx context.Context, d *store.Document) error {
	f.docs[d.ID] = d
	return nil
}

func (f *fakeDocs) Get(ctx context.Context, id uuid.UUID) (*store.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeDocs) Update(ctx context.Context, d *store.Document) error { return nil }
func (f *fakeDocs) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) ListByCollection(ctx context.Context, collectionID uuid.UUID, limit, offset int) ([]store.Document, int, error) {
	return nil, 0, nil
}

func (f *fakeDocs) FindByContentHash(ctx context.Context, collectionID uuid.UUID, hash string) (*store.Document, error) {
	for _, d := range f.docs {
		if d.CollectionID == collectionID && d.Meta().ContentHash == hash {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDocs) FindByFilename(ctx context.Context, collectionID uuid.UUID, filename string) (*store.Document, error) {
	for _, d := range f.docs {
		if d.CollectionID == collectionID && d.Meta().OriginalFilename == filename {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDocs) FindByURL(ctx context.Context, collectionID uuid.UUID, url string) (*store.Document, error) {
	for _, d := range f.docs {
		if d.CollectionID == collectionID && d.Meta().URL == url {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func TestCheckFileExactDuplicate(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	hash := ContentHash([]byte("report body"))
	docs.add(collID, store.DocumentMeta{ContentHash: hash, OriginalFilename: "report.pdf"})

	d := NewDeduper(docs, collID)
	dec, err := d.CheckFile(context.Background(), "renamed.pdf", hash)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionSkip || dec.Reason != SkipExactDuplicate {
		t.Errorf("decision = %+v, want skip/exact_duplicate", dec)
	}
}

func TestCheckFileOverwriteOnFilenameMatch(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	old := docs.add(collID, store.DocumentMeta{ContentHash: "oldhash", OriginalFilename: "report.pdf"})

	d := NewDeduper(docs, collID)
	dec, err := d.CheckFile(context.Background(), "report.pdf", ContentHash([]byte("new body")))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionOverwrite {
		t.Fatalf("action = %v, want overwrite", dec.Action)
	}
	if dec.Existing == nil || dec.Existing.ID != old.ID {
		t.Errorf("existing = %+v, want the filename match", dec.Existing)
	}
}

func TestCheckFileOverwriteOnMissingHash(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	docs.add(collID, store.DocumentMeta{OriginalFilename: "notes.txt"}) // legacy doc, no hash

	d := NewDeduper(docs, collID)
	dec, err := d.CheckFile(context.Background(), "notes.txt", ContentHash([]byte("content")))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionOverwrite {
		t.Errorf("action = %v, want overwrite for hash-less predecessor", dec.Action)
	}
}

func TestCheckFileDuplicateInBatch(t *testing.T) {
	d := NewDeduper(newFakeDocs(), uuid.New())
	hash := ContentHash([]byte("same"))

	first, err := d.CheckFile(context.Background(), "a.txt", hash)
	if err != nil {
		t.Fatal(err)
	}
	if first.Action != ActionIngest {
		t.Fatalf("first = %v, want ingest", first.Action)
	}
	second, err := d.CheckFile(context.Background(), "b.txt", hash)
	if err != nil {
		t.Fatal(err)
	}
	if second.Action != ActionSkip || second.Reason != SkipDuplicateInBatch {
		t.Errorf("second = %+v, want skip/duplicate_in_batch", second)
	}
}

func TestCheckURLSkipsKnownURL(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	docs.add(collID, store.DocumentMeta{URL: "https://example.com/page", SourceType: store.SourceURL})

	d := NewDeduper(docs, collID)
	dec, err := d.CheckURL(context.Background(), "https://example.com/page", ContentHash([]byte("whatever")))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionSkip || dec.Reason != SkipURLExists {
		t.Errorf("decision = %+v, want skip/url_exists", dec)
	}
}

func TestCheckURLFallsBackToContentHash(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	hash := ContentHash([]byte("page body"))
	docs.add(collID, store.DocumentMeta{URL: "https://example.com/old", ContentHash: hash})

	d := NewDeduper(docs, collID)
	dec, err := d.CheckURL(context.Background(), "https://example.com/new", hash)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionSkip || dec.Reason != SkipExactDuplicate {
		t.Errorf("decision = %+v, want skip/exact_duplicate via hash", dec)
	}
}

func TestCheckTextIgnoresTitles(t *testing.T) {
	docs := newFakeDocs()
	collID := uuid.New()
	docs.add(collID, store.DocumentMeta{Title: "Same Title", ContentHash: "unrelated"})

	d := NewDeduper(docs, collID)
	dec, err := d.CheckText(context.Background(), ContentHash([]byte("fresh content")))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Action != ActionIngest {
		t.Errorf("action = %v, want ingest (titles are advisory)", dec.Action)
	}
}
