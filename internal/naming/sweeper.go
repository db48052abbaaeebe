// Package naming generates thread names and summaries in the
// background from conversation history.
package naming

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/providers"
	"github.com/oap-labs/oapd/internal/store"
)

// HistoryReader fetches conversation history from the engine.
type HistoryReader interface {
	ThreadHistory(ctx context.Context, threadID string) ([]langgraph.ThreadState, error)
}

// Options tune one sweeper instance.
type Options struct {
	Model       string
	TokenBudget int           // approximate, 4 chars per token
	MinInterval time.Duration // per-thread retry throttle
	BatchLimit  int
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = 20000
	}
	if o.MinInterval <= 0 {
		o.MinInterval = time.Minute
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = 5
	}
	return o
}

// minKeptMessages is the floor the budget trim never goes below.
const minKeptMessages = 5

// Sweeper names threads flagged needs_naming. Threads renamed by their
// owner are never touched; failures only stamp the attempt so the next
// sweep retries after the throttle interval.
type Sweeper struct {
	threads store.ThreadStore
	engine  HistoryReader
	llm     providers.Chatter
	opts    Options
	log     *slog.Logger
	now     func() time.Time
}

func NewSweeper(threads store.ThreadStore, engine HistoryReader, llm providers.Chatter, opts Options, log *slog.Logger) *Sweeper {
	return &Sweeper{
		threads: threads,
		engine:  engine,
		llm:     llm,
		opts:    opts.withDefaults(),
		log:     log,
		now:     time.Now,
	}
}

// SweepResult counts one pass.
type SweepResult struct {
	Named  int `json:"named"`
	Failed int `json:"failed"`
}

// Sweep names one batch of due threads.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.opts.MinInterval)
	due, err := s.threads.ListNeedingNaming(ctx, cutoff, s.opts.BatchLimit)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{}
	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.nameThread(ctx, &due[i]); err != nil {
			res.Failed++
			s.log.Warn("thread naming failed", "thread", due[i].ThreadID, "error", err)
			if err := s.threads.TouchNamingAttempt(ctx, due[i].ThreadID, s.now().UTC()); err != nil {
				s.log.Error("stamp naming attempt failed", "thread", due[i].ThreadID, "error", err)
			}
			continue
		}
		res.Named++
	}
	if res.Named > 0 || res.Failed > 0 {
		s.log.Info("naming sweep done", "named", res.Named, "failed", res.Failed)
	}
	return res, nil
}

func (s *Sweeper) nameThread(ctx context.Context, t *store.Thread) error {
	history, err := s.engine.ThreadHistory(ctx, t.ThreadID)
	if err != nil {
		return err
	}
	transcript := Transcript(history, s.opts.TokenBudget)
	if transcript == "" {
		// Nothing to summarize yet; stamp the attempt and retry after
		// the throttle interval.
		return s.threads.TouchNamingAttempt(ctx, t.ThreadID, s.now().UTC())
	}

	named, err := s.generate(ctx, transcript)
	if err != nil {
		return err
	}
	ok, err := s.threads.ApplyNaming(ctx, t.ThreadID, named.Name, named.Summary, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		s.log.Info("thread renamed by user mid-sweep, skipping", "thread", t.ThreadID)
	}
	return nil
}

type namedThread struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

var namingSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"name": map[string]interface{}{
			"type":        "string",
			"description": "Concise thread title, at most 8 words",
		},
		"summary": map[string]interface{}{
			"type":        "string",
			"description": "One to two sentence summary of the conversation",
		},
	},
	"required":             []string{"name", "summary"},
	"additionalProperties": false,
}

func (s *Sweeper) generate(ctx context.Context, transcript string) (*namedThread, error) {
	resp, err := s.llm.Chat(ctx, providers.ChatRequest{
		Model: s.opts.Model,
		Messages: []providers.Message{
			{Role: "system", Content: "You title conversations. Given a transcript, produce a short descriptive name and a brief summary."},
			{Role: "user", Content: transcript},
		},
		ResponseSchema: namingSchema,
	})
	if err != nil {
		return nil, err
	}
	var out namedThread
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, err
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Summary = strings.TrimSpace(out.Summary)
	return &out, nil
}

// Transcript flattens the newest history snapshot into a role-tagged
// transcript. Only human and ai messages contribute. When the
// transcript exceeds the token budget (approximated at 4 chars per
// token), oldest messages drop first, but never below minKeptMessages.
func Transcript(history []langgraph.ThreadState, tokenBudget int) string {
	if len(history) == 0 {
		return ""
	}
	// History arrives newest first; the head snapshot holds the full
	// message list.
	msgs := history[0].Values.Messages

	type line struct{ text string }
	var lines []line
	for i := range msgs {
		m := &msgs[i]
		if m.Type != "human" && m.Type != "ai" {
			continue
		}
		text := strings.ReplaceAll(m.TextContent(), "\n", " ")
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := "User"
		if m.Type == "ai" {
			role = "Assistant"
		}
		lines = append(lines, line{text: role + ": " + text})
	}
	if len(lines) == 0 {
		return ""
	}

	charBudget := tokenBudget * 4
	total := 0
	for _, l := range lines {
		total += len(l.text) + 1
	}
	start := 0
	for total > charBudget && len(lines)-start > minKeptMessages {
		total -= len(lines[start].text) + 1
		start++
	}

	var b strings.Builder
	for i := start; i < len(lines); i++ {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lines[i].text)
	}
	return b.String()
}
