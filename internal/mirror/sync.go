package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/store"
)

// EngineReader is the slice of the engine client the syncer needs.
type EngineReader interface {
	GetAssistant(ctx context.Context, id string) (*langgraph.Assistant, error)
	GetSchemas(ctx context.Context, assistantID string) (*langgraph.Schemas, error)
	SearchAssistants(ctx context.Context, req langgraph.SearchRequest) ([]langgraph.Assistant, error)
}

// Result aggregates one sync sweep. Per-id failures land in Errors and
// never abort the sweep.
type Result struct {
	New           int      `json:"new"`
	Updated       int      `json:"updated"`
	Unchanged     int      `json:"unchanged"`
	SchemaUpdates int      `json:"schema_updates"`
	Errors        []string `json:"errors,omitempty"`
}

func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Syncer mirrors upstream assistants, graphs, and schemas into the
// local store. Hash-gated upserts keep unchanged rows write-free; the
// store bumps cache versions for rows that do change.
type Syncer struct {
	mirror    store.MirrorStore
	cache     store.CacheStateStore
	engine    EngineReader
	pageLimit int
	log       *slog.Logger
}

func NewSyncer(mirror store.MirrorStore, cache store.CacheStateStore, engine EngineReader, pageLimit int, log *slog.Logger) *Syncer {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Syncer{mirror: mirror, cache: cache, engine: engine, pageLimit: pageLimit, log: log}
}

// SyncAssistant refreshes a single assistant from upstream.
func (s *Syncer) SyncAssistant(ctx context.Context, id uuid.UUID) (*Result, error) {
	a, err := s.engine.GetAssistant(ctx, id.String())
	if err != nil {
		return nil, err
	}
	res := &Result{}
	now := time.Now().UTC()
	s.syncOne(ctx, a, now, res)
	if err := s.mirror.RefreshGraphAggregates(ctx, a.GraphID, now); err != nil {
		res.addError("refresh graph %s: %v", a.GraphID, err)
	}
	return res, nil
}

// SyncIncremental pages the upstream assistant index and upserts every
// record. Graphs touched by changed assistants get their aggregates
// recomputed.
func (s *Syncer) SyncIncremental(ctx context.Context) (*Result, error) {
	res := &Result{}
	now := time.Now().UTC()
	graphs, err := s.sweep(ctx, "", now, res)
	if err != nil {
		return nil, err
	}
	s.refreshGraphs(ctx, graphs, now, res)
	s.log.Info("incremental sync done",
		"new", res.New, "updated", res.Updated, "unchanged", res.Unchanged,
		"schema_updates", res.SchemaUpdates, "errors", len(res.Errors))
	return res, nil
}

// SyncFull is an incremental sweep plus liveness bookkeeping: graphs
// whose assistants were all absent from this sweep are marked inactive
// and last_synced_at is stamped.
func (s *Syncer) SyncFull(ctx context.Context) (*Result, error) {
	sweepStart := time.Now().UTC()
	res := &Result{}
	graphs, err := s.sweep(ctx, "", sweepStart, res)
	if err != nil {
		return nil, err
	}
	s.refreshGraphs(ctx, graphs, sweepStart, res)

	inactive, err := s.mirror.MarkGraphsInactive(ctx, sweepStart)
	if err != nil {
		res.addError("mark inactive graphs: %v", err)
	} else if len(inactive) > 0 {
		s.log.Info("graphs marked inactive", "graphs", inactive)
	}
	if err := s.cache.SetLastSynced(ctx, time.Now().UTC()); err != nil {
		res.addError("stamp last_synced_at: %v", err)
	}
	s.log.Info("full sync done",
		"new", res.New, "updated", res.Updated, "unchanged", res.Unchanged,
		"schema_updates", res.SchemaUpdates, "inactive_graphs", len(inactive), "errors", len(res.Errors))
	return res, nil
}

// SyncGraph refreshes every assistant of one graph.
func (s *Syncer) SyncGraph(ctx context.Context, graphID string) (*Result, error) {
	res := &Result{}
	now := time.Now().UTC()
	if _, err := s.sweep(ctx, graphID, now, res); err != nil {
		return nil, err
	}
	if err := s.mirror.RefreshGraphAggregates(ctx, graphID, now); err != nil {
		res.addError("refresh graph %s: %v", graphID, err)
	}
	return res, nil
}

// sweep pages upstream search (optionally pinned to one graph) and
// upserts each page. Returns the set of graph ids seen.
func (s *Syncer) sweep(ctx context.Context, graphID string, now time.Time, res *Result) (map[string]bool, error) {
	graphs := map[string]bool{}
	for offset := 0; ; offset += s.pageLimit {
		page, err := s.engine.SearchAssistants(ctx, langgraph.SearchRequest{
			GraphID: graphID,
			Limit:   s.pageLimit,
			Offset:  offset,
			SortBy:  "updated_at",
		})
		if err != nil {
			// A failed page aborts the sweep; partial progress is kept.
			return graphs, err
		}
		for i := range page {
			a := &page[i]
			graphs[a.GraphID] = true
			s.syncOne(ctx, a, now, res)
		}
		if len(page) < s.pageLimit {
			return graphs, nil
		}
	}
}

// syncOne upserts one assistant and, when its content changed, its
// schemas. Failures are recorded and skipped.
func (s *Syncer) syncOne(ctx context.Context, a *langgraph.Assistant, now time.Time, res *Result) {
	id, err := uuid.Parse(a.AssistantID)
	if err != nil {
		res.addError("assistant %q: bad id: %v", a.AssistantID, err)
		return
	}
	row := &store.AssistantMirror{
		AssistantID:        id,
		GraphID:            a.GraphID,
		Name:               a.Name,
		Description:        a.Description,
		Config:             a.Config,
		Metadata:           a.Metadata,
		Context:            a.Context,
		Version:            a.Version,
		Tags:               a.Tags(),
		LanggraphCreatedAt: a.CreatedAt,
		LanggraphUpdatedAt: a.UpdatedAt,
		MirrorHash:         AssistantHash(a),
		LastSeenAt:         now,
	}
	isNew, changed, err := s.mirror.UpsertAssistant(ctx, row)
	if err != nil {
		res.addError("assistant %s: upsert: %v", id, err)
		return
	}
	switch {
	case isNew:
		res.New++
	case changed:
		res.Updated++
	default:
		res.Unchanged++
	}

	s.ensureGraph(ctx, a, now, res)

	// Schemas only move when the assistant does; skip the extra round
	// trip for unchanged rows.
	if isNew || changed {
		s.syncSchemas(ctx, id, res)
	}
}

// ensureGraph upserts the graph row derived from a template assistant.
// Non-template assistants create a minimal row only when the graph is
// absent; otherwise they carry the stored template-derived fields
// forward so the hash gate leaves the row untouched.
func (s *Syncer) ensureGraph(ctx context.Context, a *langgraph.Assistant, now time.Time, res *Result) {
	g := &store.GraphMirror{
		GraphID:    a.GraphID,
		Name:       a.GraphID,
		Active:     true,
		LastSeenAt: now,
	}
	if a.IsTemplate() {
		if a.Name != "" {
			g.Name = a.Name
		}
		g.Description = a.Description
		g.SchemaAccessible = true
	} else if prev, err := s.mirror.GetGraph(ctx, a.GraphID); err == nil {
		g.Name = prev.Name
		g.Description = prev.Description
		g.SchemaAccessible = prev.SchemaAccessible
	}
	g.MirrorHash = GraphHash(g)
	if _, err := s.mirror.UpsertGraph(ctx, g); err != nil {
		res.addError("graph %s: upsert: %v", a.GraphID, err)
	}
}

func (s *Syncer) syncSchemas(ctx context.Context, id uuid.UUID, res *Result) {
	sc, err := s.engine.GetSchemas(ctx, id.String())
	if err != nil {
		res.addError("assistant %s: schemas: %v", id, err)
		return
	}
	changed, err := s.mirror.UpsertSchemas(ctx, &store.AssistantSchemas{
		AssistantID:  id,
		InputSchema:  sc.InputSchema,
		ConfigSchema: sc.ConfigSchema,
		StateSchema:  sc.StateSchema,
		SchemaHash:   SchemaHash(sc),
	})
	if err != nil {
		res.addError("assistant %s: store schemas: %v", id, err)
		return
	}
	if changed {
		res.SchemaUpdates++
	}
}

func (s *Syncer) refreshGraphs(ctx context.Context, graphs map[string]bool, now time.Time, res *Result) {
	for g := range graphs {
		if err := s.mirror.RefreshGraphAggregates(ctx, g, now); err != nil {
			res.addError("refresh graph %s: %v", g, err)
		}
	}
}
