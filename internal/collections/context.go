package collections

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/store"
)

// ContextChunk is a chunk inside an expanded document context.
type ContextChunk struct {
	store.Chunk
	// Matched marks chunks the search itself returned, as opposed to
	// siblings pulled in for context.
	Matched bool `json:"matched"`
}

// DocumentContext is the expanded supporting context for one document.
type DocumentContext struct {
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	// FullDocument is set when the whole document fit the budget and
	// Content carries it; otherwise Chunks carries the selected pieces.
	FullDocument bool           `json:"full_document"`
	Content      string         `json:"content,omitempty"`
	Chunks       []ContextChunk `json:"chunks,omitempty"`
}

// expandContext groups results by document and widens each group with
// sibling chunks (or the full document) within the character budget.
// Orphan chunks without a document pass through as single-chunk groups.
func (s *Service) expandContext(ctx context.Context, results []ScoredChunk, opts SearchOptions) ([]DocumentContext, error) {
	budget := opts.MaxCharacters
	if budget <= 0 {
		budget = 8000
	}

	// Group matched chunks per document, preserving result order for
	// group ordering.
	var orderedDocs []uuid.UUID
	matchedByDoc := map[uuid.UUID]map[uuid.UUID]bool{}
	var orphans []ScoredChunk
	for _, r := range results {
		if r.DocumentID == nil {
			orphans = append(orphans, r)
			continue
		}
		docID := *r.DocumentID
		if matchedByDoc[docID] == nil {
			matchedByDoc[docID] = map[uuid.UUID]bool{}
			orderedDocs = append(orderedDocs, docID)
		}
		matchedByDoc[docID][r.ID] = true
	}

	var out []DocumentContext
	for _, docID := range orderedDocs {
		dc, err := s.expandDocument(ctx, docID, matchedByDoc[docID], opts.PreferFullDocument, budget)
		if err != nil {
			return nil, err
		}
		out = append(out, *dc)
	}
	for _, r := range orphans {
		out = append(out, DocumentContext{
			Chunks: []ContextChunk{{Chunk: r.Chunk, Matched: true}},
		})
	}
	return out, nil
}

func (s *Service) expandDocument(ctx context.Context, docID uuid.UUID, matched map[uuid.UUID]bool, preferFull bool, budget int) (*DocumentContext, error) {
	doc, err := s.docs.Get(ctx, docID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	dc := &DocumentContext{DocumentID: docID}
	if doc != nil {
		dc.Title = doc.Meta().Title
		if preferFull && len(doc.Content) <= budget {
			dc.FullDocument = true
			dc.Content = doc.Content
			return dc, nil
		}
	}

	siblings, err := s.chunks.ListByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	dc.Chunks = selectContextChunks(siblings, matched, budget)
	return dc, nil
}

// selectContextChunks keeps all matched chunks, then walks outward from
// each alternately (after, then before, by chunk_index) adding siblings
// while the total stays within budget. The result is in natural
// chunk_index order.
func selectContextChunks(siblings []store.Chunk, matched map[uuid.UUID]bool, budget int) []ContextChunk {
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].ChunkIndex < siblings[j].ChunkIndex })

	selected := map[int]bool{}
	total := 0
	for i, ch := range siblings {
		if matched[ch.ID] {
			selected[i] = true
			total += len(ch.Content)
		}
	}

	// Alternating outward walk: one step after, one step before, per
	// matched chunk, repeated until no sibling fits.
	var anchors []int
	for i := range siblings {
		if selected[i] {
			anchors = append(anchors, i)
		}
	}
	offset := 1
walk:
	for {
		added := false
		for _, a := range anchors {
			for _, idx := range []int{a + offset, a - offset} {
				if idx < 0 || idx >= len(siblings) || selected[idx] {
					continue
				}
				if total+len(siblings[idx].Content) > budget {
					break walk
				}
				selected[idx] = true
				total += len(siblings[idx].Content)
				added = true
			}
		}
		if !added {
			break
		}
		offset++
	}

	var out []ContextChunk
	for i, ch := range siblings {
		if selected[i] {
			out = append(out, ContextChunk{Chunk: ch, Matched: matched[ch.ID]})
		}
	}
	return out
}
