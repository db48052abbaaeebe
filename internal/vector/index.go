// Package vector abstracts the semantic search index.
package vector

import "context"

// Point is one embedded chunk stored in the index.
type Point struct {
	ID      string // chunk uuid
	Vector  []float32
	Payload map[string]interface{}
}

// Hit is a scored search result. Score is cosine similarity.
type Hit struct {
	ID    string
	Score float32
}

// Index stores and searches chunk embeddings. One named index per
// collection, keyed by the collection's table id.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimensions int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	DeleteByDocument(ctx context.Context, collection, documentID string) error
	DropCollection(ctx context.Context, collection string) error
}
