package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/collections"
)

// CollectionsHandler serves collection CRUD, documents, and search.
type CollectionsHandler struct {
	svc  *collections.Service
	auth *Auth
	log  *slog.Logger
}

func NewCollectionsHandler(svc *collections.Service, auth *Auth, log *slog.Logger) *CollectionsHandler {
	return &CollectionsHandler{svc: svc, auth: auth, log: log}
}

func (h *CollectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/collections", h.auth.Middleware(h.handleList))
	mux.HandleFunc("POST /v1/collections", h.auth.Middleware(h.handleCreate))
	mux.HandleFunc("GET /v1/collections/{id}", h.auth.Middleware(h.handleGet))
	mux.HandleFunc("PUT /v1/collections/{id}", h.auth.Middleware(h.handleUpdate))
	mux.HandleFunc("DELETE /v1/collections/{id}", h.auth.Middleware(h.handleDelete))
	mux.HandleFunc("POST /v1/collections/{id}/search", h.auth.Middleware(h.handleSearch))
	mux.HandleFunc("GET /v1/collections/{id}/documents", h.auth.Middleware(h.handleListDocuments))
	mux.HandleFunc("GET /v1/collections/{id}/documents/{docID}", h.auth.Middleware(h.handleGetDocument))
	mux.HandleFunc("DELETE /v1/collections/{id}/documents/{docID}", h.auth.Middleware(h.handleDeleteDocument))
}

func (h *CollectionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	colls, err := h.svc.List(r.Context(), actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": colls})
}

func (h *CollectionsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req struct {
		Name     string          `json:"name"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.svc.Create(r.Context(), actor, req.Name, req.Metadata)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CollectionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CollectionsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req struct {
		Name     string          `json:"name"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.svc.Update(r.Context(), actor, id, req.Name, req.Metadata)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CollectionsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *CollectionsHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req struct {
		Mode                     collections.SearchMode `json:"mode"`
		Query                    string                 `json:"query"`
		Keywords                 []string               `json:"keywords"`
		Limit                    int                    `json:"limit"`
		SemanticWeight           *float64               `json:"semantic_weight"`
		ReturnSurroundingContext bool                   `json:"return_surrounding_context"`
		PreferFullDocument       bool                   `json:"prefer_full_document"`
		MaxContextCharacters     int                    `json:"max_context_characters"`
		FormatChunksForLLM       bool                   `json:"format_chunks_for_llm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	opts := collections.SearchOptions{
		Mode:               req.Mode,
		Query:              req.Query,
		Keywords:           req.Keywords,
		K:                  req.Limit,
		ExpandContext:      req.ReturnSurroundingContext,
		PreferFullDocument: req.PreferFullDocument,
		MaxCharacters:      req.MaxContextCharacters,
	}
	if req.SemanticWeight != nil {
		opts.Weight = *req.SemanticWeight
	} else {
		opts.Weight = 0.5
	}
	result, err := h.svc.Search(r.Context(), actor, id, opts)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.FormatChunksForLLM {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"mode":      result.Mode,
			"results":   result.Results,
			"formatted": collections.FormatMarkdown(result.Contexts),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CollectionsHandler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	docs, total, err := h.svc.ListDocuments(r.Context(), actor, id,
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total_count": total})
}

func (h *CollectionsHandler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	docID, err := pathUUID(r, "docID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), actor, id, docID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *CollectionsHandler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	docID, err := pathUUID(r, "docID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.svc.DeleteDocument(r.Context(), actor, id, docID); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
