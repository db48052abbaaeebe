package collections

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchKeyword  SearchMode = "keyword"
	SearchHybrid   SearchMode = "hybrid"
)

// hybridOverfetchCap bounds the per-side overfetch in hybrid mode.
const hybridOverfetchCap = 50

// SearchOptions parameterizes a search call.
type SearchOptions struct {
	Mode     SearchMode `json:"mode"`
	Query    string     `json:"query"`
	Keywords []string   `json:"keywords,omitempty"`
	K        int        `json:"k"`
	// Weight blends hybrid scores: s = w*semantic + (1-w)*keyword.
	Weight float64 `json:"weight"`
	// Context expansion (optional post-processing).
	ExpandContext      bool `json:"expand_context,omitempty"`
	PreferFullDocument bool `json:"prefer_full_document,omitempty"`
	MaxCharacters      int  `json:"max_characters,omitempty"`
}

// ScoredChunk is one search result.
type ScoredChunk struct {
	store.Chunk
	Score float64 `json:"score"`
}

// SearchResult is the search response, optionally with expanded
// per-document context.
type SearchResult struct {
	Mode     SearchMode        `json:"mode"`
	Results  []ScoredChunk     `json:"results"`
	Contexts []DocumentContext `json:"contexts,omitempty"`
}

// Search runs semantic, keyword, or hybrid retrieval over a collection.
// Any collection permission suffices.
func (s *Service) Search(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, opts SearchOptions) (*SearchResult, error) {
	if err := s.requireLevel(ctx, actor, collectionID, store.LevelViewer); err != nil {
		return nil, err
	}
	c, err := s.getCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if opts.K <= 0 {
		opts.K = 10
	}
	if opts.Weight < 0 || opts.Weight > 1 {
		return nil, apperr.New(apperr.InvalidInput, "weight must be in [0,1], got %v", opts.Weight)
	}

	var results []ScoredChunk
	switch opts.Mode {
	case SearchSemantic:
		results, err = s.semanticSearch(ctx, c, opts.Query, opts.K)
	case SearchKeyword:
		results, err = s.keywordSearch(ctx, collectionID, searchKeywords(opts), opts.K)
	case SearchHybrid:
		results, err = s.hybridSearch(ctx, c, opts)
	default:
		return nil, apperr.New(apperr.InvalidInput, "unknown search mode %q", opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	res := &SearchResult{Mode: opts.Mode, Results: results}
	if opts.ExpandContext {
		res.Contexts, err = s.expandContext(ctx, results, opts)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func searchKeywords(opts SearchOptions) []string {
	if len(opts.Keywords) > 0 {
		return opts.Keywords
	}
	return []string{opts.Query}
}

func (s *Service) semanticSearch(ctx context.Context, c *store.Collection, query string, k int) ([]ScoredChunk, error) {
	if query == "" {
		return nil, apperr.New(apperr.InvalidInput, "query is required for semantic search")
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "embed query")
	}
	hits, err := s.index.Search(ctx, c.TableID, vecs[0], k)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(hits))
	scores := make(map[uuid.UUID]float64, len(hits))
	for _, h := range hits {
		id, err := uuid.Parse(h.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scores[id] = float64(h.Score)
	}
	chunks, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ScoredChunk{Chunk: ch, Score: scores[ch.ID]})
	}
	sortByScore(out)
	return out, nil
}

func (s *Service) keywordSearch(ctx context.Context, collectionID uuid.UUID, keywords []string, k int) ([]ScoredChunk, error) {
	if len(keywords) == 0 || (len(keywords) == 1 && keywords[0] == "") {
		return nil, apperr.New(apperr.InvalidInput, "keywords are required for keyword search")
	}
	hits, err := s.chunks.KeywordSearch(ctx, collectionID, keywords, k)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = ScoredChunk{Chunk: h.Chunk, Score: h.Score}
	}
	return out, nil
}

func (s *Service) hybridSearch(ctx context.Context, c *store.Collection, opts SearchOptions) ([]ScoredChunk, error) {
	overfetch := opts.K * 2
	if overfetch > hybridOverfetchCap {
		overfetch = hybridOverfetchCap
	}

	sem, err := s.semanticSearch(ctx, c, opts.Query, overfetch)
	if err != nil {
		return nil, err
	}
	kw, err := s.keywordSearch(ctx, c.ID, searchKeywords(opts), overfetch)
	if err != nil {
		return nil, err
	}
	return mergeHybrid(sem, kw, opts.Weight, opts.K), nil
}

// mergeHybrid min-max normalizes each side, combines scores as
// w*sem + (1-w)*kw, dedupes by chunk id keeping the max normalized
// score per side, and returns the top k. Ties break by chunk id for
// stable output.
func mergeHybrid(sem, kw []ScoredChunk, w float64, k int) []ScoredChunk {
	semNorm := normalizeScores(sem)
	kwNorm := normalizeScores(kw)

	type sides struct {
		chunk store.Chunk
		sem   float64
		kw    float64
	}
	byID := map[uuid.UUID]*sides{}
	for i, sc := range sem {
		e, ok := byID[sc.ID]
		if !ok {
			e = &sides{chunk: sc.Chunk}
			byID[sc.ID] = e
		}
		if semNorm[i] > e.sem {
			e.sem = semNorm[i]
		}
	}
	for i, sc := range kw {
		e, ok := byID[sc.ID]
		if !ok {
			e = &sides{chunk: sc.Chunk}
			byID[sc.ID] = e
		}
		if kwNorm[i] > e.kw {
			e.kw = kwNorm[i]
		}
	}

	out := make([]ScoredChunk, 0, len(byID))
	for _, e := range byID {
		out = append(out, ScoredChunk{
			Chunk: e.chunk,
			Score: w*e.sem + (1-w)*e.kw,
		})
	}
	sortByScore(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// normalizeScores min-max normalizes to [0,1]. A degenerate set (all
// scores equal) normalizes to 1 so the side still contributes.
func normalizeScores(in []ScoredChunk) []float64 {
	out := make([]float64, len(in))
	if len(in) == 0 {
		return out
	}
	min, max := in[0].Score, in[0].Score
	for _, sc := range in[1:] {
		if sc.Score < min {
			min = sc.Score
		}
		if sc.Score > max {
			max = sc.Score
		}
	}
	for i, sc := range in {
		if max == min {
			out[i] = 1
		} else {
			out[i] = (sc.Score - min) / (max - min)
		}
	}
	return out
}

func sortByScore(chunks []ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID.String() < chunks[j].ID.String()
	})
}
