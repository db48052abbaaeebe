package collections

import (
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/store"
)

func chunkWithScore(id uuid.UUID, score float64) ScoredChunk {
	return ScoredChunk{Chunk: store.Chunk{ID: id}, Score: score}
}

func TestNormalizeScores(t *testing.T) {
	in := []ScoredChunk{
		chunkWithScore(uuid.New(), 2),
		chunkWithScore(uuid.New(), 6),
		chunkWithScore(uuid.New(), 4),
	}
	got := normalizeScores(in)
	want := []float64{0, 1, 0.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("norm[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeScoresDegenerate(t *testing.T) {
	in := []ScoredChunk{
		chunkWithScore(uuid.New(), 3),
		chunkWithScore(uuid.New(), 3),
	}
	got := normalizeScores(in)
	for i, v := range got {
		if v != 1 {
			t.Errorf("norm[%d] = %v, want 1 for equal scores", i, v)
		}
	}
	if out := normalizeScores(nil); len(out) != 0 {
		t.Errorf("empty input should yield empty output, got %v", out)
	}
}

func TestMergeHybridCombinesAndDedupes(t *testing.T) {
	shared := uuid.New()
	semOnly := uuid.New()
	kwOnly := uuid.New()

	sem := []ScoredChunk{
		chunkWithScore(shared, 0.9),  // norm 1.0
		chunkWithScore(semOnly, 0.1), // norm 0.0
	}
	kw := []ScoredChunk{
		chunkWithScore(kwOnly, 5),  // norm 1.0
		chunkWithScore(shared, 1),  // norm 0.0
	}

	got := mergeHybrid(sem, kw, 0.7, 10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 after dedupe", len(got))
	}

	scores := map[uuid.UUID]float64{}
	for _, sc := range got {
		scores[sc.ID] = sc.Score
	}
	// shared: 0.7*1.0 + 0.3*0.0 = 0.7
	if math.Abs(scores[shared]-0.7) > 1e-9 {
		t.Errorf("shared score = %v, want 0.7", scores[shared])
	}
	// kwOnly: 0.7*0 + 0.3*1.0 = 0.3
	if math.Abs(scores[kwOnly]-0.3) > 1e-9 {
		t.Errorf("kwOnly score = %v, want 0.3", scores[kwOnly])
	}
	// semOnly appears on one side with norm 0.
	if scores[semOnly] != 0 {
		t.Errorf("semOnly score = %v, want 0", scores[semOnly])
	}
	// Ordering is by combined score descending.
	if got[0].ID != shared || got[1].ID != kwOnly {
		t.Errorf("order = %v, %v; want shared then kwOnly", got[0].ID, got[1].ID)
	}
}

func TestMergeHybridTopK(t *testing.T) {
	var sem []ScoredChunk
	for i := 0; i < 8; i++ {
		sem = append(sem, chunkWithScore(uuid.New(), float64(i)))
	}
	got := mergeHybrid(sem, nil, 1.0, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Score < got[1].Score || got[1].Score < got[2].Score {
		t.Errorf("results not sorted: %v %v %v", got[0].Score, got[1].Score, got[2].Score)
	}
}

func TestMergeHybridStableTieOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	sem := []ScoredChunk{chunkWithScore(b, 1), chunkWithScore(a, 1)}

	got := mergeHybrid(sem, nil, 1.0, 2)
	if got[0].ID != a || got[1].ID != b {
		t.Errorf("tie order = %v, %v; want ascending id", got[0].ID, got[1].ID)
	}
}

func TestSelectContextChunksAlternatingWalk(t *testing.T) {
	docID := uuid.New()
	mk := func(idx int, content string) store.Chunk {
		return store.Chunk{ID: uuid.New(), DocumentID: &docID, ChunkIndex: idx, Content: content}
	}
	siblings := []store.Chunk{
		mk(0, strings.Repeat("a", 100)),
		mk(1, strings.Repeat("b", 100)),
		mk(2, strings.Repeat("c", 100)), // matched
		mk(3, strings.Repeat("d", 100)),
		mk(4, strings.Repeat("e", 100)),
	}
	matched := map[uuid.UUID]bool{siblings[2].ID: true}

	// Budget for matched + two siblings: the walk adds index 3 (after)
	// then index 1 (before), then stops.
	got := selectContextChunks(siblings, matched, 300)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Natural order, matched flagged.
	wantIdx := []int{1, 2, 3}
	for i, cc := range got {
		if cc.ChunkIndex != wantIdx[i] {
			t.Errorf("chunk[%d].index = %d, want %d", i, cc.ChunkIndex, wantIdx[i])
		}
	}
	if got[0].Matched || !got[1].Matched || got[2].Matched {
		t.Errorf("matched flags = %v %v %v", got[0].Matched, got[1].Matched, got[2].Matched)
	}
}

func TestSelectContextChunksBudgetExhausted(t *testing.T) {
	docID := uuid.New()
	big := store.Chunk{ID: uuid.New(), DocumentID: &docID, ChunkIndex: 0, Content: strings.Repeat("x", 500)}
	matchedChunk := store.Chunk{ID: uuid.New(), DocumentID: &docID, ChunkIndex: 1, Content: "short"}
	matched := map[uuid.UUID]bool{matchedChunk.ID: true}

	got := selectContextChunks([]store.Chunk{big, matchedChunk}, matched, 100)
	if len(got) != 1 || !got[0].Matched {
		t.Fatalf("got = %+v, want only the matched chunk", got)
	}
}

func TestFormatMarkdown(t *testing.T) {
	docID := uuid.New()
	contexts := []DocumentContext{
		{
			DocumentID: docID,
			Title:      "Quarterly Report",
			Chunks: []ContextChunk{
				{Chunk: store.Chunk{ChunkIndex: 0, Content: "intro text"}, Matched: false},
				{Chunk: store.Chunk{ChunkIndex: 1, Content: "revenue grew"}, Matched: true},
			},
		},
		{
			DocumentID:   uuid.New(),
			Title:        "Appendix",
			FullDocument: true,
			Content:      "entire appendix body",
		},
	}
	md := FormatMarkdown(contexts)

	for _, want := range []string{
		"## Quarterly Report",
		"[matched chunk 1]",
		"[context chunk 0]",
		"## Appendix",
		"entire appendix body",
		"---",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestFormatMarkdownEmpty(t *testing.T) {
	if got := FormatMarkdown(nil); got != "" {
		t.Errorf("FormatMarkdown(nil) = %q", got)
	}
}
