package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/mirror"
	"github.com/oap-labs/oapd/internal/store"
)

// AdminHandler exposes mirror sync and cache-state endpoints for
// operators and the engine proxy.
type AdminHandler struct {
	syncer *mirror.Syncer
	cache  store.CacheStateStore
	auth   *Auth
	log    *slog.Logger
}

func NewAdminHandler(syncer *mirror.Syncer, cache store.CacheStateStore, auth *Auth, log *slog.Logger) *AdminHandler {
	return &AdminHandler{syncer: syncer, cache: cache, auth: auth, log: log}
}

func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/admin/sync/incremental", h.auth.Middleware(h.handleSyncIncremental))
	mux.HandleFunc("POST /v1/admin/sync/full", h.auth.Middleware(h.handleSyncFull))
	mux.HandleFunc("POST /v1/admin/sync/graphs/{id}", h.auth.Middleware(h.handleSyncGraph))
	mux.HandleFunc("POST /v1/admin/sync/assistants/{id}", h.auth.Middleware(h.handleSyncAssistant))
	mux.HandleFunc("POST /v1/admin/cleanup", h.auth.Middleware(h.handleCleanup))
	mux.HandleFunc("GET /v1/cache-state", h.auth.Middleware(h.handleCacheState))
}

func requireOperator(actor auth.Actor) error {
	if actor.IsService() || actor.IsDevAdmin() {
		return nil
	}
	return apperr.New(apperr.Forbidden, "operator credentials required")
}

func (h *AdminHandler) handleSyncIncremental(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if err := requireOperator(actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.syncer.SyncIncremental(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleSyncFull(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if err := requireOperator(actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.syncer.SyncFull(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleSyncGraph(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if err := requireOperator(actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.syncer.SyncGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleSyncAssistant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if err := requireOperator(actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.syncer.SyncAssistant(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if err := requireOperator(actor); err != nil {
		writeError(w, h.log, err)
		return
	}
	var req struct {
		GraceHours int `json:"grace_hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.GraceHours <= 0 {
		req.GraceHours = 24
	}
	res, err := h.syncer.Cleanup(r.Context(), time.Duration(req.GraceHours)*time.Hour)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCacheState lets clients poll version counters when they miss
// websocket invalidation events.
func (h *AdminHandler) handleCacheState(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOr401(w, r, h.log); !ok {
		return
	}
	state, err := h.cache.Get(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
