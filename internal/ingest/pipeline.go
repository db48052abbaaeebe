package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/collections"
	"github.com/oap-labs/oapd/internal/store"
)

// FileInput is one uploaded file.
type FileInput struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Options tunes chunking for a request.
type Options struct {
	Strategy Strategy  `json:"chunking_strategy,omitempty"`
	Size     SizeClass `json:"chunk_size,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyMarkdownAware
	}
	if o.Size == "" {
		o.Size = SizeMedium
	}
	return o
}

// Request is one ingestion job's payload.
type Request struct {
	Type     store.JobType `json:"type"`
	Files    []FileInput   `json:"files,omitempty"`
	URL      string        `json:"url,omitempty"`
	VideoURL string        `json:"video_url,omitempty"`
	Text     string        `json:"text,omitempty"`
	Title    string        `json:"title,omitempty"`
	Options  Options       `json:"options"`
}

// ItemStatus is the per-input outcome.
type ItemStatus string

const (
	ItemProcessed   ItemStatus = "processed"
	ItemOverwritten ItemStatus = "overwritten"
	ItemSkipped     ItemStatus = "skipped"
	ItemFailed      ItemStatus = "failed"
)

// ItemResult reports one input's fate.
type ItemResult struct {
	Name       string     `json:"name"`
	Status     ItemStatus `json:"status"`
	Reason     SkipReason `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	Chunks     int        `json:"chunks,omitempty"`
}

// Result aggregates an ingestion run. It is persisted as the job's
// result_data.
type Result struct {
	DocumentsProcessed int          `json:"documents_processed"`
	ChunksCreated      int          `json:"chunks_created"`
	Skipped            int          `json:"skipped"`
	Overwritten        int          `json:"overwritten"`
	Items              []ItemResult `json:"items"`
}

// ProgressFunc receives step descriptions and a 0-100 percentage.
type ProgressFunc func(step string, percent int)

// Pipeline converts, dedupes, chunks, and persists inputs.
type Pipeline struct {
	colls *collections.Service
	docs  store.DocumentStore
	conv  *Converter
	trans *TranscriptFetcher
	log   *slog.Logger
}

func NewPipeline(colls *collections.Service, docs store.DocumentStore, conv *Converter, trans *TranscriptFetcher, log *slog.Logger) *Pipeline {
	return &Pipeline{colls: colls, docs: docs, conv: conv, trans: trans, log: log}
}

// Run executes one ingestion request. Per-input errors are collected in
// the result; Run returns an error only when nothing could be ingested
// and at least one input failed (skips alone complete normally), or on
// cancellation.
func (p *Pipeline) Run(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, req Request, progress ProgressFunc) (*Result, error) {
	opts := req.Options.withDefaults()
	chunker, err := NewChunker(opts.Strategy, opts.Size)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string, int) {}
	}
	deduper := NewDeduper(p.docs, collectionID)
	result := &Result{}

	switch req.Type {
	case store.JobIngestFiles:
		err = p.runFiles(ctx, actor, collectionID, req.Files, chunker, deduper, opts, result, progress)
	case store.JobIngestURL:
		err = p.runURL(ctx, actor, collectionID, req.URL, chunker, deduper, opts, result, progress)
	case store.JobIngestVideo:
		err = p.runVideo(ctx, actor, collectionID, req.VideoURL, chunker, deduper, opts, result, progress)
	case store.JobIngestText:
		err = p.runText(ctx, actor, collectionID, req.Title, req.Text, chunker, deduper, opts, result, progress)
	default:
		return nil, apperr.New(apperr.InvalidInput, "unknown job type %q", req.Type)
	}
	if err != nil {
		return result, err
	}

	progress("finalizing", 100)
	if result.DocumentsProcessed == 0 && hasFailures(result) {
		return result, apperr.New(apperr.Internal, "no documents ingested")
	}
	return result, nil
}

func hasFailures(r *Result) bool {
	for _, it := range r.Items {
		if it.Status == ItemFailed {
			return true
		}
	}
	return false
}

func (p *Pipeline) runFiles(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, files []FileInput, chunker *Chunker, deduper *Deduper, opts Options, result *Result, progress ProgressFunc) error {
	if len(files) == 0 {
		return apperr.New(apperr.InvalidInput, "no files in request")
	}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress(fmt.Sprintf("processing %s (%d/%d)", f.Filename, i+1, len(files)),
			i*100/len(files))

		item := ItemResult{Name: f.Filename}
		hash := ContentHash(f.Content)
		decision, err := deduper.CheckFile(ctx, f.Filename, hash)
		if err != nil {
			return err
		}
		if decision.Action == ActionSkip {
			item.Status = ItemSkipped
			item.Reason = decision.Reason
			result.Skipped++
			result.Items = append(result.Items, item)
			continue
		}

		content, err := p.conv.ConvertFile(ctx, f.Filename, f.Content)
		if err != nil {
			item.Status = ItemFailed
			item.Error = err.Error()
			result.Items = append(result.Items, item)
			p.log.Warn("file conversion failed", "file", f.Filename, "error", err)
			continue
		}

		meta := store.DocumentMeta{
			ContentHash:      hash,
			OriginalFilename: f.Filename,
			SourceType:       store.SourceFile,
			Title:            f.Filename,
		}
		docID, chunks, err := p.persist(ctx, actor, collectionID, content, meta, chunker, opts)
		if err != nil {
			item.Status = ItemFailed
			item.Error = err.Error()
			result.Items = append(result.Items, item)
			continue
		}

		item.DocumentID = &docID
		item.Chunks = chunks
		if decision.Action == ActionOverwrite {
			item.Status = ItemOverwritten
			result.Overwritten++
		} else {
			item.Status = ItemProcessed
		}
		result.DocumentsProcessed++
		result.ChunksCreated += chunks
		result.Items = append(result.Items, item)
	}
	return nil
}

func (p *Pipeline) runURL(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, url string, chunker *Chunker, deduper *Deduper, opts Options, result *Result, progress ProgressFunc) error {
	if url == "" {
		return apperr.New(apperr.InvalidInput, "url is required")
	}
	progress("fetching "+url, 10)
	item := ItemResult{Name: url}

	content, err := p.conv.ConvertURL(ctx, url)
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
		result.Items = append(result.Items, item)
		return nil
	}

	hash := ContentHash([]byte(content))
	decision, err := deduper.CheckURL(ctx, url, hash)
	if err != nil {
		return err
	}
	if decision.Action == ActionSkip {
		item.Status = ItemSkipped
		item.Reason = decision.Reason
		result.Skipped++
		result.Items = append(result.Items, item)
		return nil
	}

	progress("chunking", 50)
	meta := store.DocumentMeta{
		ContentHash: hash,
		SourceType:  store.SourceURL,
		URL:         url,
		Title:       url,
	}
	docID, chunks, err := p.persist(ctx, actor, collectionID, content, meta, chunker, opts)
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
		result.Items = append(result.Items, item)
		return nil
	}
	item.Status = ItemProcessed
	item.DocumentID = &docID
	item.Chunks = chunks
	result.DocumentsProcessed++
	result.ChunksCreated += chunks
	result.Items = append(result.Items, item)
	return nil
}

func (p *Pipeline) runVideo(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, videoURL string, chunker *Chunker, deduper *Deduper, opts Options, result *Result, progress ProgressFunc) error {
	if videoURL == "" {
		return apperr.New(apperr.InvalidInput, "video url is required")
	}
	progress("fetching transcript", 10)
	item := ItemResult{Name: videoURL}

	tr, err := p.trans.Fetch(ctx, videoURL)
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
		result.Items = append(result.Items, item)
		return nil
	}

	hash := ContentHash([]byte(tr.Text))
	decision, err := deduper.CheckURL(ctx, videoURL, hash)
	if err != nil {
		return err
	}
	if decision.Action == ActionSkip {
		item.Status = ItemSkipped
		item.Reason = decision.Reason
		result.Skipped++
		result.Items = append(result.Items, item)
		return nil
	}

	progress("chunking transcript", 50)
	title := tr.Title
	if title == "" {
		title = videoURL
	}
	meta := store.DocumentMeta{
		ContentHash: hash,
		SourceType:  store.SourceYouTube,
		URL:         videoURL,
		Title:       title,
	}
	docID, chunks, err := p.persist(ctx, actor, collectionID, tr.Text, meta, chunker, opts)
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
		result.Items = append(result.Items, item)
		return nil
	}
	item.Status = ItemProcessed
	item.DocumentID = &docID
	item.Chunks = chunks
	result.DocumentsProcessed++
	result.ChunksCreated += chunks
	result.Items = append(result.Items, item)
	return nil
}

func (p *Pipeline) runText(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, title, text string, chunker *Chunker, deduper *Deduper, opts Options, result *Result, progress ProgressFunc) error {
	if text == "" {
		return apperr.New(apperr.InvalidInput, "text is required")
	}
	if title == "" {
		title = "Untitled"
	}
	item := ItemResult{Name: title}

	hash := ContentHash([]byte(text))
	decision, err := deduper.CheckText(ctx, hash)
	if err != nil {
		return err
	}
	if decision.Action == ActionSkip {
		item.Status = ItemSkipped
		item.Reason = decision.Reason
		result.Skipped++
		result.Items = append(result.Items, item)
		return nil
	}

	progress("chunking", 40)
	meta := store.DocumentMeta{
		ContentHash: hash,
		SourceType:  store.SourceText,
		Title:       title,
	}
	docID, chunks, err := p.persist(ctx, actor, collectionID, text, meta, chunker, opts)
	if err != nil {
		item.Status = ItemFailed
		item.Error = err.Error()
		result.Items = append(result.Items, item)
		return nil
	}
	item.Status = ItemProcessed
	item.DocumentID = &docID
	item.Chunks = chunks
	result.DocumentsProcessed++
	result.ChunksCreated += chunks
	result.Items = append(result.Items, item)
	return nil
}

// persist writes the document row, chunks the content, and upserts the
// chunks through the collection service.
func (p *Pipeline) persist(ctx context.Context, actor auth.Actor, collectionID uuid.UUID, content string, meta store.DocumentMeta, chunker *Chunker, opts Options) (uuid.UUID, int, error) {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, 0, err
	}
	now := time.Now().UTC()
	doc := &store.Document{
		ID:           store.GenNewID(),
		CollectionID: collectionID,
		Content:      content,
		Metadata:     rawMeta,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.colls.CreateDocument(ctx, actor, doc); err != nil {
		return uuid.Nil, 0, err
	}

	pieces := chunker.Chunk(content)
	inputs := make([]collections.ChunkInput, len(pieces))
	for i, piece := range pieces {
		inputs[i] = collections.ChunkInput{
			Content:    piece,
			DocumentID: &doc.ID,
			ChunkIndex: i,
			Metadata: map[string]interface{}{
				"total_chunks":      len(pieces),
				"chunking_strategy": string(opts.Strategy),
				"chunk_size":        string(opts.Size),
				"title":             meta.Title,
			},
		}
	}
	if _, err := p.colls.Upsert(ctx, actor, collectionID, inputs); err != nil {
		return uuid.Nil, 0, err
	}
	return doc.ID, len(pieces), nil
}
