package naming

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/providers"
	"github.com/oap-labs/oapd/internal/store"
)

type memThreads struct {
	rows map[string]*store.Thread
}

func newMemThreads() *memThreads { return &memThreads{rows: map[string]*store.Thread{}} }

func (m *memThreads) Upsert(ctx context.Context, t *store.Thread) error {
	cp := *t
	m.rows[t.ThreadID] = &cp
	return nil
}

func (m *memThreads) Get(ctx context.Context, threadID string) (*store.Thread, error) {
	t, ok := m.rows[threadID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *memThreads) ListNeedingNaming(ctx context.Context, cutoff time.Time, limit int) ([]store.Thread, error) {
	var out []store.Thread
	for _, t := range m.rows {
		if !t.NeedsNaming || t.UserRenamed {
			continue
		}
		if t.LastNamingAt != nil && !t.LastNamingAt.Before(cutoff) {
			continue
		}
		out = append(out, *t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memThreads) ApplyNaming(ctx context.Context, threadID, name, summary string, at time.Time) (bool, error) {
	t := m.rows[threadID]
	if t.UserRenamed {
		return false, nil
	}
	t.Name = name
	t.Summary = summary
	t.NeedsNaming = false
	t.LastNamingAt = &at
	return true, nil
}

func (m *memThreads) TouchNamingAttempt(ctx context.Context, threadID string, at time.Time) error {
	m.rows[threadID].LastNamingAt = &at
	return nil
}

func (m *memThreads) SetUserRenamed(ctx context.Context, threadID, name string) error {
	t := m.rows[threadID]
	t.Name = name
	t.UserRenamed = true
	t.NeedsNaming = false
	return nil
}

func (m *memThreads) MarkNeedsNaming(ctx context.Context, threadID, userID string, messageAt time.Time) error {
	t, ok := m.rows[threadID]
	if !ok {
		t = &store.Thread{ThreadID: threadID, UserID: userID}
		m.rows[threadID] = t
	}
	t.NeedsNaming = true
	t.LastMessageAt = messageAt
	return nil
}

type stubHistory struct {
	states map[string][]langgraph.ThreadState
	err    error
}

func (s *stubHistory) ThreadHistory(ctx context.Context, threadID string) ([]langgraph.ThreadState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.states[threadID], nil
}

type stubChatter struct {
	reply string
	err   error
	calls int
}

func (c *stubChatter) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &providers.ChatResponse{Content: c.reply}, nil
}

func (c *stubChatter) Name() string { return "stub" }

func historyOf(msgs ...langgraph.ThreadMessage) []langgraph.ThreadState {
	var st langgraph.ThreadState
	st.Values.Messages = msgs
	return []langgraph.ThreadState{st}
}

func msg(typ, text string) langgraph.ThreadMessage {
	raw, _ := json.Marshal(text)
	return langgraph.ThreadMessage{Type: typ, Content: raw}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSweepNamesDueThreads(t *testing.T) {
	threads := newMemThreads()
	threads.rows["t1"] = &store.Thread{ThreadID: "t1", UserID: "u1", NeedsNaming: true}
	hist := &stubHistory{states: map[string][]langgraph.ThreadState{
		"t1": historyOf(msg("human", "How do I tune postgres?"), msg("ai", "Start with shared_buffers.")),
	}}
	llm := &stubChatter{reply: `{"name":"Postgres tuning","summary":"Tuning basics."}`}
	s := NewSweeper(threads, hist, llm, Options{}, quietLog())

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Named != 1 || res.Failed != 0 {
		t.Fatalf("res = %+v, want 1 named", res)
	}
	got := threads.rows["t1"]
	if got.Name != "Postgres tuning" || got.Summary != "Tuning basics." {
		t.Errorf("thread = %+v", got)
	}
	if got.NeedsNaming {
		t.Error("needs_naming must clear on success")
	}
}

func TestSweepSkipsUserRenamedAndThrottled(t *testing.T) {
	threads := newMemThreads()
	recent := time.Now().UTC().Add(-10 * time.Second)
	threads.rows["renamed"] = &store.Thread{ThreadID: "renamed", NeedsNaming: true, UserRenamed: true}
	threads.rows["throttled"] = &store.Thread{ThreadID: "throttled", NeedsNaming: true, LastNamingAt: &recent}
	llm := &stubChatter{reply: `{"name":"x","summary":"y"}`}
	s := NewSweeper(threads, &stubHistory{}, llm, Options{MinInterval: time.Minute}, quietLog())

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Named != 0 || res.Failed != 0 {
		t.Errorf("res = %+v, want nothing attempted", res)
	}
	if llm.calls != 0 {
		t.Error("no LLM calls expected")
	}
}

func TestSweepFailureStampsAttemptOnly(t *testing.T) {
	threads := newMemThreads()
	threads.rows["t1"] = &store.Thread{ThreadID: "t1", NeedsNaming: true}
	hist := &stubHistory{states: map[string][]langgraph.ThreadState{
		"t1": historyOf(msg("human", "hello")),
	}}
	llm := &stubChatter{err: errors.New("model overloaded")}
	s := NewSweeper(threads, hist, llm, Options{}, quietLog())

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("res = %+v, want 1 failed", res)
	}
	got := threads.rows["t1"]
	if !got.NeedsNaming {
		t.Error("needs_naming must survive a failure")
	}
	if got.LastNamingAt == nil {
		t.Error("failure must stamp last_naming_at for throttling")
	}
}

func TestSweepBatchLimit(t *testing.T) {
	threads := newMemThreads()
	for _, id := range []string{"a", "b", "c"} {
		threads.rows[id] = &store.Thread{ThreadID: id, NeedsNaming: true}
	}
	hist := &stubHistory{states: map[string][]langgraph.ThreadState{}}
	for _, id := range []string{"a", "b", "c"} {
		hist.states[id] = historyOf(msg("human", "hi there"))
	}
	llm := &stubChatter{reply: `{"name":"n","summary":"s"}`}
	s := NewSweeper(threads, hist, llm, Options{BatchLimit: 2}, quietLog())

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Named != 2 {
		t.Errorf("named = %d, want batch limit of 2", res.Named)
	}
}

func TestTranscriptFiltersAndTags(t *testing.T) {
	h := historyOf(
		msg("system", "you are helpful"),
		msg("human", "What is Go?"),
		msg("tool", `{"result":42}`),
		msg("ai", "A programming language."),
	)
	got := Transcript(h, 20000)
	want := "User: What is Go?\nAssistant: A programming language."
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

func TestTranscriptBlockContent(t *testing.T) {
	blocks := json.RawMessage(`[{"type":"text","text":"part one"},{"type":"tool_use","text":"x"},{"type":"text","text":"part two"}]`)
	h := historyOf(langgraph.ThreadMessage{Type: "ai", Content: blocks})
	got := Transcript(h, 20000)
	if !strings.Contains(got, "part one part two") {
		t.Errorf("transcript = %q, want text blocks joined with a space", got)
	}
}

func TestTranscriptDropsOldestOverBudget(t *testing.T) {
	long := strings.Repeat("w", 400)
	var msgs []langgraph.ThreadMessage
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg("human", long))
	}
	// Budget of 500 tokens is ~2000 chars, roughly 4 messages.
	got := Transcript(historyOf(msgs...), 500)
	kept := strings.Count(got, "User: ")
	if kept >= 10 {
		t.Fatalf("kept = %d, want oldest messages dropped", kept)
	}
	if kept < minKeptMessages {
		t.Errorf("kept = %d, must keep at least %d", kept, minKeptMessages)
	}
}

func TestTranscriptEmptyHistory(t *testing.T) {
	if got := Transcript(nil, 1000); got != "" {
		t.Errorf("transcript = %q, want empty", got)
	}
}
