package http

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/ingest"
	"github.com/oap-labs/oapd/internal/jobs"
	"github.com/oap-labs/oapd/internal/store"
)

// JobsHandler serves ingestion job submission and lifecycle.
type JobsHandler struct {
	sched *jobs.Scheduler
	auth  *Auth
	log   *slog.Logger
}

func NewJobsHandler(sched *jobs.Scheduler, auth *Auth, log *slog.Logger) *JobsHandler {
	return &JobsHandler{sched: sched, auth: auth, log: log}
}

func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/jobs", h.auth.Middleware(h.handleSubmit))
	mux.HandleFunc("GET /v1/jobs", h.auth.Middleware(h.handleList))
	mux.HandleFunc("GET /v1/jobs/{id}", h.auth.Middleware(h.handleGet))
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", h.auth.Middleware(h.handleCancel))
}

type submitJobRequest struct {
	CollectionID string        `json:"collection_id"`
	Type         store.JobType `json:"type"`
	Files        []struct {
		Filename      string `json:"filename"`
		ContentBase64 string `json:"content_base64"`
	} `json:"files,omitempty"`
	URL              string         `json:"url,omitempty"`
	VideoURL         string         `json:"video_url,omitempty"`
	Text             string         `json:"text,omitempty"`
	Title            string         `json:"title,omitempty"`
	Options          ingest.Options `json:"options"`
	EstimatedSeconds *int           `json:"estimated_seconds,omitempty"`
}

// toIngestRequest decodes the file payloads and validates the shape.
func (req *submitJobRequest) toIngestRequest() (ingest.Request, error) {
	out := ingest.Request{
		Type:     req.Type,
		URL:      req.URL,
		VideoURL: req.VideoURL,
		Text:     req.Text,
		Title:    req.Title,
		Options:  req.Options,
	}
	switch req.Type {
	case store.JobIngestFiles:
		if len(req.Files) == 0 {
			return out, apperr.New(apperr.InvalidInput, "files are required for %s", req.Type)
		}
		for _, f := range req.Files {
			content, err := base64.StdEncoding.DecodeString(f.ContentBase64)
			if err != nil {
				return out, apperr.Wrap(apperr.InvalidInput, err, "file %s: bad base64", f.Filename)
			}
			out.Files = append(out.Files, ingest.FileInput{Filename: f.Filename, Content: content})
		}
	case store.JobIngestURL:
		if req.URL == "" {
			return out, apperr.New(apperr.InvalidInput, "url is required for %s", req.Type)
		}
	case store.JobIngestVideo:
		if req.VideoURL == "" {
			return out, apperr.New(apperr.InvalidInput, "video_url is required for %s", req.Type)
		}
	case store.JobIngestText:
		if req.Text == "" {
			return out, apperr.New(apperr.InvalidInput, "text is required for %s", req.Type)
		}
	default:
		return out, apperr.New(apperr.InvalidInput, "unknown job type %q", req.Type)
	}
	return out, nil
}

// inputSummary is what lands in the jobs table: the request shape
// without file bytes.
func (req *submitJobRequest) inputSummary() json.RawMessage {
	type fileSummary struct {
		Filename string `json:"filename"`
		Bytes    int    `json:"bytes"`
	}
	summary := struct {
		Files    []fileSummary  `json:"files,omitempty"`
		URL      string         `json:"url,omitempty"`
		VideoURL string         `json:"video_url,omitempty"`
		Title    string         `json:"title,omitempty"`
		TextLen  int            `json:"text_length,omitempty"`
		Options  ingest.Options `json:"options"`
	}{
		URL:      req.URL,
		VideoURL: req.VideoURL,
		Title:    req.Title,
		TextLen:  len(req.Text),
		Options:  req.Options,
	}
	for _, f := range req.Files {
		summary.Files = append(summary.Files, fileSummary{
			Filename: f.Filename,
			Bytes:    base64.StdEncoding.DecodedLen(len(f.ContentBase64)),
		})
	}
	raw, _ := json.Marshal(summary)
	return raw
}

// estimate guesses a duration hint when the client supplies none.
func (req *submitJobRequest) estimate() *int {
	if req.EstimatedSeconds != nil {
		return req.EstimatedSeconds
	}
	var secs int
	switch req.Type {
	case store.JobIngestFiles:
		secs = 30 * len(req.Files)
	case store.JobIngestURL:
		secs = 45
	case store.JobIngestVideo:
		secs = 120
	default:
		secs = 15
	}
	return &secs
}

func (h *JobsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if actor.UserID == "" {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "job submission requires a user identity"))
		return
	}
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	collectionID, err := parseCollectionID(req.CollectionID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	ingestReq, err := req.toIngestRequest()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	optsRaw, _ := json.Marshal(req.Options)
	job, err := h.sched.Submit(r.Context(), actor, collectionID, req.Type,
		req.inputSummary(), optsRaw, req.estimate(), ingestReq)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	opts := store.JobListOpts{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.JobStatus(raw)
		opts.Status = &status
	}
	list, total, err := h.sched.List(r.Context(), actor, opts)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "total_count": total})
}

func (h *JobsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	job, err := h.sched.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	job, err := h.sched.Cancel(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
