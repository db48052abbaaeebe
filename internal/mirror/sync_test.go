package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/store"
)

type memMirror struct {
	graphs      map[string]*store.GraphMirror
	assistants  map[uuid.UUID]*store.AssistantMirror
	schemas     map[uuid.UUID]*store.AssistantSchemas
	inactive    []string
	graphWrites int
}

func newMemMirror() *memMirror {
	return &memMirror{
		graphs:     map[string]*store.GraphMirror{},
		assistants: map[uuid.UUID]*store.AssistantMirror{},
		schemas:    map[uuid.UUID]*store.AssistantSchemas{},
	}
}

func (m *memMirror) GetGraph(ctx context.Context, graphID string) (*store.GraphMirror, error) {
	g, ok := m.graphs[graphID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (m *memMirror) UpsertGraph(ctx context.Context, g *store.GraphMirror) (bool, error) {
	prev, ok := m.graphs[g.GraphID]
	if ok && prev.MirrorHash == g.MirrorHash {
		prev.LastSeenAt = g.LastSeenAt
		return false, nil
	}
	cp := *g
	m.graphs[g.GraphID] = &cp
	m.graphWrites++
	return true, nil
}

func (m *memMirror) ListGraphs(ctx context.Context, activeOnly bool) ([]store.GraphMirror, error) {
	var out []store.GraphMirror
	for _, g := range m.graphs {
		if activeOnly && !g.Active {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (m *memMirror) RefreshGraphAggregates(ctx context.Context, graphID string, now time.Time) error {
	g, ok := m.graphs[graphID]
	if !ok {
		return nil
	}
	n := 0
	for _, a := range m.assistants {
		if a.GraphID == graphID {
			n++
		}
	}
	g.AssistantsCount = n
	g.UpdatedAt = now
	return nil
}

func (m *memMirror) MarkGraphsInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	var out []string
	for id, g := range m.graphs {
		if g.Active && g.LastSeenAt.Before(cutoff) {
			g.Active = false
			out = append(out, id)
		}
	}
	m.inactive = out
	return out, nil
}

func (m *memMirror) GetAssistant(ctx context.Context, id uuid.UUID) (*store.AssistantMirror, error) {
	a, ok := m.assistants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (m *memMirror) UpsertAssistant(ctx context.Context, a *store.AssistantMirror) (bool, bool, error) {
	prev, ok := m.assistants[a.AssistantID]
	if ok && prev.MirrorHash == a.MirrorHash {
		prev.LastSeenAt = a.LastSeenAt
		return false, false, nil
	}
	cp := *a
	m.assistants[a.AssistantID] = &cp
	return !ok, true, nil
}

func (m *memMirror) TouchAssistants(ctx context.Context, ids []uuid.UUID, seenAt time.Time) error {
	for _, id := range ids {
		if a, ok := m.assistants[id]; ok {
			a.LastSeenAt = seenAt
		}
	}
	return nil
}

func (m *memMirror) ListAssistants(ctx context.Context, opts store.AssistantListOpts) ([]store.AssistantMirror, int, error) {
	var out []store.AssistantMirror
	for _, a := range m.assistants {
		if opts.GraphID != "" && a.GraphID != opts.GraphID {
			continue
		}
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (m *memMirror) DeleteAssistant(ctx context.Context, id uuid.UUID) error {
	delete(m.assistants, id)
	return nil
}

func (m *memMirror) GetSchemas(ctx context.Context, assistantID uuid.UUID) (*store.AssistantSchemas, error) {
	s, ok := m.schemas[assistantID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (m *memMirror) UpsertSchemas(ctx context.Context, s *store.AssistantSchemas) (bool, error) {
	prev, ok := m.schemas[s.AssistantID]
	if ok && prev.SchemaHash == s.SchemaHash {
		return false, nil
	}
	cp := *s
	m.schemas[s.AssistantID] = &cp
	return true, nil
}

func (m *memMirror) DeleteStaleAssistants(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	for id, a := range m.assistants {
		if a.LastSeenAt.Before(cutoff) && a.UpdatedAt.Before(cutoff) {
			delete(m.assistants, id)
			n++
		}
	}
	return n, nil
}

func (m *memMirror) DeleteStaleGraphs(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	for id, g := range m.graphs {
		if g.LastSeenAt.Before(cutoff) && g.UpdatedAt.Before(cutoff) {
			delete(m.graphs, id)
			n++
		}
	}
	return n, nil
}

func (m *memMirror) DeleteOrphanSchemas(ctx context.Context) (int, error) {
	n := 0
	for id := range m.schemas {
		if _, ok := m.assistants[id]; !ok {
			delete(m.schemas, id)
			n++
		}
	}
	return n, nil
}

type memCache struct {
	lastSynced *time.Time
}

func (c *memCache) Get(ctx context.Context) (*store.CacheState, error) {
	return &store.CacheState{LastSyncedAt: c.lastSynced}, nil
}

func (c *memCache) Increment(ctx context.Context, d store.CacheDomain) (int64, error) {
	return 1, nil
}

func (c *memCache) SetLastSynced(ctx context.Context, t time.Time) error {
	c.lastSynced = &t
	return nil
}

// stubEngine serves a fixed assistant list page by page.
type stubEngine struct {
	assistants []langgraph.Assistant
	schemas    map[string]*langgraph.Schemas
	schemaErr  error
	getErr     error
}

func (e *stubEngine) GetAssistant(ctx context.Context, id string) (*langgraph.Assistant, error) {
	if e.getErr != nil {
		return nil, e.getErr
	}
	for i := range e.assistants {
		if e.assistants[i].AssistantID == id {
			return &e.assistants[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (e *stubEngine) GetSchemas(ctx context.Context, id string) (*langgraph.Schemas, error) {
	if e.schemaErr != nil {
		return nil, e.schemaErr
	}
	if s, ok := e.schemas[id]; ok {
		return s, nil
	}
	return &langgraph.Schemas{}, nil
}

func (e *stubEngine) SearchAssistants(ctx context.Context, req langgraph.SearchRequest) ([]langgraph.Assistant, error) {
	var pool []langgraph.Assistant
	for _, a := range e.assistants {
		if req.GraphID != "" && a.GraphID != req.GraphID {
			continue
		}
		pool = append(pool, a)
	}
	if req.Offset >= len(pool) {
		return nil, nil
	}
	end := req.Offset + req.Limit
	if end > len(pool) {
		end = len(pool)
	}
	return pool[req.Offset:end], nil
}

func upstreamAssistant(id uuid.UUID, graphID, name string, version int) langgraph.Assistant {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return langgraph.Assistant{
		AssistantID: id.String(),
		GraphID:     graphID,
		Name:        name,
		Config:      json.RawMessage(`{"model":"gpt-4o"}`),
		Metadata:    json.RawMessage(`{}`),
		Version:     version,
		CreatedAt:   ts,
		UpdatedAt:   ts.Add(time.Duration(version) * time.Minute),
	}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAssistantHashStable(t *testing.T) {
	a := upstreamAssistant(uuid.New(), "agent", "Helper", 3)
	b := a
	if AssistantHash(&a) != AssistantHash(&b) {
		t.Error("identical records must hash equal")
	}

	changed := a
	changed.Description = "now with description"
	if AssistantHash(&a) == AssistantHash(&changed) {
		t.Error("description change must change hash")
	}

	bumped := a
	bumped.Version = 4
	if AssistantHash(&a) == AssistantHash(&bumped) {
		t.Error("version bump must change hash")
	}
}

func TestHashFieldBoundaries(t *testing.T) {
	a := upstreamAssistant(uuid.New(), "agent", "ab", 1)
	a.Description = "c"
	b := a
	b.Name = "a"
	b.Description = "bc"
	// Config sits between name and description in the hash input, but
	// the separator must still keep shifted field contents distinct.
	b.Config = a.Config
	if AssistantHash(&a) == AssistantHash(&b) {
		t.Error("field boundaries must be separator-protected")
	}
}

func TestSyncIncrementalAggregates(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	eng := &stubEngine{
		assistants: []langgraph.Assistant{
			upstreamAssistant(ids[0], "agent", "One", 1),
			upstreamAssistant(ids[1], "agent", "Two", 1),
			upstreamAssistant(ids[2], "chat", "Three", 1),
		},
		schemas: map[string]*langgraph.Schemas{
			ids[0].String(): {InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
	m := newMemMirror()
	s := NewSyncer(m, &memCache{}, eng, 2, quietLog())

	res, err := s.SyncIncremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 3 || res.Updated != 0 || res.Unchanged != 0 {
		t.Errorf("first sweep = %+v, want 3 new", res)
	}
	if res.SchemaUpdates < 1 {
		t.Errorf("schema_updates = %d, want at least 1", res.SchemaUpdates)
	}
	if len(m.graphs) != 2 {
		t.Errorf("graphs mirrored = %d, want 2", len(m.graphs))
	}
	if m.graphs["agent"].AssistantsCount != 2 {
		t.Errorf("agent assistants_count = %d, want 2", m.graphs["agent"].AssistantsCount)
	}

	// Second sweep with no upstream change is write-free.
	res, err = s.SyncIncremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 0 || res.Updated != 0 || res.Unchanged != 3 {
		t.Errorf("second sweep = %+v, want 3 unchanged", res)
	}

	// Upstream edit shows up as updated.
	eng.assistants[1].Version = 2
	eng.assistants[1].Name = "Two v2"
	res, err = s.SyncIncremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Unchanged != 2 {
		t.Errorf("third sweep = %+v, want 1 updated / 2 unchanged", res)
	}
}

func TestSyncCollectsPerIDErrors(t *testing.T) {
	good := uuid.New()
	eng := &stubEngine{
		assistants: []langgraph.Assistant{
			{AssistantID: "not-a-uuid", GraphID: "agent", Name: "Broken"},
			upstreamAssistant(good, "agent", "Fine", 1),
		},
		schemaErr: errors.New("schemas endpoint down"),
	}
	m := newMemMirror()
	s := NewSyncer(m, &memCache{}, eng, 10, quietLog())

	res, err := s.SyncIncremental(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 {
		t.Errorf("new = %d, want the good assistant synced", res.New)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want bad id + schema failure", res.Errors)
	}
	if _, ok := m.assistants[good]; !ok {
		t.Error("good assistant must be mirrored despite sibling failures")
	}
}

func TestSyncFullMarksInactiveAndStamps(t *testing.T) {
	m := newMemMirror()
	// A graph last seen long ago with no live assistants.
	m.graphs["dead"] = &store.GraphMirror{
		GraphID:    "dead",
		Active:     true,
		LastSeenAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	id := uuid.New()
	eng := &stubEngine{assistants: []langgraph.Assistant{upstreamAssistant(id, "agent", "Live", 1)}}
	cache := &memCache{}
	s := NewSyncer(m, cache, eng, 10, quietLog())

	if _, err := s.SyncFull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.graphs["dead"].Active {
		t.Error("unseen graph must be marked inactive")
	}
	if m.graphs["agent"] == nil || !m.graphs["agent"].Active {
		t.Error("live graph must stay active")
	}
	if cache.lastSynced == nil {
		t.Error("full sync must stamp last_synced_at")
	}
}

func TestSyncGraphPinsToOneGraph(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	eng := &stubEngine{assistants: []langgraph.Assistant{
		upstreamAssistant(a, "agent", "Mine", 1),
		upstreamAssistant(b, "chat", "Other", 1),
	}}
	m := newMemMirror()
	s := NewSyncer(m, &memCache{}, eng, 10, quietLog())

	res, err := s.SyncGraph(context.Background(), "agent")
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 {
		t.Errorf("new = %d, want 1", res.New)
	}
	if _, ok := m.assistants[b]; ok {
		t.Error("other graph's assistant must not be mirrored")
	}
}

func TestTemplateAssistantShapesGraph(t *testing.T) {
	id := uuid.New()
	tmpl := upstreamAssistant(id, "agent", "Agent Template", 1)
	tmpl.Description = "The base agent"
	tmpl.Metadata = json.RawMessage(`{"created_by":"system"}`)
	eng := &stubEngine{assistants: []langgraph.Assistant{tmpl}}
	m := newMemMirror()
	s := NewSyncer(m, &memCache{}, eng, 10, quietLog())

	if _, err := s.SyncIncremental(context.Background()); err != nil {
		t.Fatal(err)
	}
	g := m.graphs["agent"]
	if g == nil {
		t.Fatal("graph row missing")
	}
	if g.Name != "Agent Template" || g.Description != "The base agent" {
		t.Errorf("graph = %+v, want template name and description", g)
	}
	if !g.SchemaAccessible {
		t.Error("template presence must mark schemas accessible")
	}
}

func TestRegularAssistantKeepsGraphMetadata(t *testing.T) {
	tmplID := uuid.New()
	tmpl := upstreamAssistant(tmplID, "agent", "Agent Template", 1)
	tmpl.Description = "The base agent"
	tmpl.Metadata = json.RawMessage(`{"created_by":"system"}`)
	regular := upstreamAssistant(uuid.New(), "agent", "My Copy", 1)
	eng := &stubEngine{assistants: []langgraph.Assistant{tmpl, regular}}
	m := newMemMirror()
	s := NewSyncer(m, &memCache{}, eng, 10, quietLog())

	if _, err := s.SyncIncremental(context.Background()); err != nil {
		t.Fatal(err)
	}
	g := m.graphs["agent"]
	if g == nil {
		t.Fatal("graph row missing")
	}
	if g.Name != "Agent Template" || g.Description != "The base agent" || !g.SchemaAccessible {
		t.Errorf("graph = %+v, want template metadata to survive the regular sibling", g)
	}

	// A change-free sweep must not rewrite the graph row at all.
	writes := m.graphWrites
	if _, err := s.SyncIncremental(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.graphWrites != writes {
		t.Errorf("graph writes went %d -> %d on an unchanged sweep", writes, m.graphWrites)
	}
	if g := m.graphs["agent"]; g.Name != "Agent Template" || !g.SchemaAccessible {
		t.Errorf("graph = %+v after unchanged sweep, want metadata intact", g)
	}
}

func TestCleanupHonorsGrace(t *testing.T) {
	m := newMemMirror()
	now := time.Now().UTC()
	stale := uuid.New()
	fresh := uuid.New()
	edited := uuid.New()
	m.assistants[stale] = &store.AssistantMirror{AssistantID: stale, GraphID: "g",
		LastSeenAt: now.Add(-10 * 24 * time.Hour), UpdatedAt: now.Add(-10 * 24 * time.Hour)}
	m.assistants[fresh] = &store.AssistantMirror{AssistantID: fresh, GraphID: "g",
		LastSeenAt: now, UpdatedAt: now}
	// Unseen for a long time but recently updated locally: must survive.
	m.assistants[edited] = &store.AssistantMirror{AssistantID: edited, GraphID: "g",
		LastSeenAt: now.Add(-10 * 24 * time.Hour), UpdatedAt: now}
	m.schemas[stale] = &store.AssistantSchemas{AssistantID: stale}

	s := NewSyncer(m, &memCache{}, &stubEngine{}, 10, quietLog())
	res, err := s.Cleanup(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assistants != 1 {
		t.Errorf("assistants deleted = %d, want 1", res.Assistants)
	}
	if res.Schemas != 1 {
		t.Errorf("orphan schemas deleted = %d, want 1", res.Schemas)
	}
	if _, ok := m.assistants[edited]; !ok {
		t.Error("recently updated row must survive cleanup")
	}
	if _, ok := m.assistants[fresh]; !ok {
		t.Error("fresh row must survive cleanup")
	}
}
