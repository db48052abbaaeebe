package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GraphMirror is the local projection of an upstream graph template.
// Graphs are identified by an external string id.
type GraphMirror struct {
	GraphID          string     `json:"graph_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	AssistantsCount  int        `json:"assistants_count"`
	SchemaAccessible bool       `json:"schema_accessible"`
	Active           bool       `json:"active"`
	MirrorHash       string     `json:"mirror_hash"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AssistantMirror is the local projection of an upstream assistant.
// Tags are lifted out of the reserved metadata key into a first-class
// column for fast filtering.
type AssistantMirror struct {
	AssistantID        uuid.UUID       `json:"assistant_id"`
	GraphID            string          `json:"graph_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Config             json.RawMessage `json:"config,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	Context            json.RawMessage `json:"context,omitempty"`
	Version            int             `json:"version"`
	Tags               []string        `json:"tags,omitempty"`
	LanggraphCreatedAt time.Time       `json:"langgraph_created_at"`
	LanggraphUpdatedAt time.Time       `json:"langgraph_updated_at"`
	MirrorHash         string          `json:"mirror_hash"`
	LastSeenAt         time.Time       `json:"last_seen_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// AssistantSchemas holds the JSON schemas for one assistant.
type AssistantSchemas struct {
	AssistantID  uuid.UUID       `json:"assistant_id"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	StateSchema  json.RawMessage `json:"state_schema,omitempty"`
	SchemaHash   string          `json:"schema_hash"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AssistantListOpts filters mirrored assistant listings.
type AssistantListOpts struct {
	GraphID string
	// HideTemplates excludes graph template assistants
	// (upstream metadata.created_by == "system") from user-facing listings.
	HideTemplates bool
	Limit         int
	Offset        int
}

// MirrorStore persists the upstream mirror. Upserts that change the mirror
// hash atomically bump the matching cache-state counter in the same
// transaction.
type MirrorStore interface {
	GetGraph(ctx context.Context, graphID string) (*GraphMirror, error)
	// UpsertGraph writes the graph row iff the hash differs; changed reports
	// whether a write (and version bump) happened.
	UpsertGraph(ctx context.Context, g *GraphMirror) (changed bool, err error)
	ListGraphs(ctx context.Context, activeOnly bool) ([]GraphMirror, error)
	// RefreshGraphAggregates recomputes assistants_count and
	// schema_accessible for the graph from its mirrored assistants.
	RefreshGraphAggregates(ctx context.Context, graphID string, now time.Time) error
	// MarkGraphsInactive deactivates graphs with no assistant seen since
	// cutoff. Returns the ids deactivated.
	MarkGraphsInactive(ctx context.Context, cutoff time.Time) ([]string, error)

	GetAssistant(ctx context.Context, id uuid.UUID) (*AssistantMirror, error)
	// UpsertAssistant writes the row iff the hash differs and bumps
	// assistants_version; unchanged rows only touch last_seen_at.
	// isNew reports an insert, changed reports insert or hash change.
	UpsertAssistant(ctx context.Context, a *AssistantMirror) (isNew, changed bool, err error)
	TouchAssistants(ctx context.Context, ids []uuid.UUID, seenAt time.Time) error
	ListAssistants(ctx context.Context, opts AssistantListOpts) ([]AssistantMirror, int, error)
	DeleteAssistant(ctx context.Context, id uuid.UUID) error

	GetSchemas(ctx context.Context, assistantID uuid.UUID) (*AssistantSchemas, error)
	// UpsertSchemas stores the schemas iff the hash differs and bumps
	// schemas_version; changed reports whether a write happened.
	UpsertSchemas(ctx context.Context, s *AssistantSchemas) (changed bool, err error)

	// Cleanup helpers. None may delete rows updated after the cutoff,
	// regardless of last_seen_at.
	DeleteStaleAssistants(ctx context.Context, cutoff time.Time) (int, error)
	DeleteStaleGraphs(ctx context.Context, cutoff time.Time) (int, error)
	DeleteOrphanSchemas(ctx context.Context) (int, error)
}

// CacheDomain names one monotonic cache-version counter.
type CacheDomain string

const (
	CacheGraphs     CacheDomain = "graphs"
	CacheAssistants CacheDomain = "assistants"
	CacheSchemas    CacheDomain = "schemas"
	CacheThreads    CacheDomain = "threads"
)

// CacheState is the single-row table of monotonic version counters clients
// use to detect staleness without refetching.
type CacheState struct {
	GraphsVersion     int64      `json:"graphs_version"`
	AssistantsVersion int64      `json:"assistants_version"`
	SchemasVersion    int64      `json:"schemas_version"`
	ThreadsVersion    int64      `json:"threads_version"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// CacheStateStore reads and advances the cache-version counters.
type CacheStateStore interface {
	Get(ctx context.Context) (*CacheState, error)
	// Increment bumps one counter and returns the new value.
	Increment(ctx context.Context, d CacheDomain) (int64, error)
	SetLastSynced(ctx context.Context, t time.Time) error
}
