package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AssistantVersion is one append-only configuration snapshot.
// (assistant_id, version) is unique and monotonic per assistant.
type AssistantVersion struct {
	AssistantID        uuid.UUID       `json:"assistant_id"`
	Version            int             `json:"version"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Config             json.RawMessage `json:"config,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	LanggraphCreatedAt time.Time       `json:"langgraph_created_at"`
	CommitMessage      string          `json:"commit_message,omitempty"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// VersionStore persists assistant version history.
type VersionStore interface {
	// Insert appends a snapshot; inserting an existing (assistant_id,
	// version) is a no-op so observation-driven saves stay idempotent.
	Insert(ctx context.Context, v *AssistantVersion) (inserted bool, err error)
	Get(ctx context.Context, assistantID uuid.UUID, version int) (*AssistantVersion, error)
	// List returns versions newest-first.
	List(ctx context.Context, assistantID uuid.UUID) ([]AssistantVersion, error)
	DeleteForAssistant(ctx context.Context, assistantID uuid.UUID) error
}
