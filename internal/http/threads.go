package http

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// ThreadsHandler serves thread naming state. Threads themselves live
// in the engine; this side only tracks names, summaries, and the
// needs-naming flag the sweeper consumes.
type ThreadsHandler struct {
	threads store.ThreadStore
	auth    *Auth
	log     *slog.Logger
}

func NewThreadsHandler(threads store.ThreadStore, auth *Auth, log *slog.Logger) *ThreadsHandler {
	return &ThreadsHandler{threads: threads, auth: auth, log: log}
}

func (h *ThreadsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/threads/{id}", h.auth.Middleware(h.handleGet))
	mux.HandleFunc("POST /v1/threads/{id}/rename", h.auth.Middleware(h.handleRename))
	mux.HandleFunc("POST /v1/threads/{id}/mark-needs-naming", h.auth.Middleware(h.handleMarkNeedsNaming))
}

// getOwned loads the thread and enforces ownership. Service and
// dev_admin actors may read any thread.
func (h *ThreadsHandler) getOwned(r *http.Request, actor auth.Actor) (*store.Thread, error) {
	id := r.PathValue("id")
	t, err := h.threads.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "thread %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsService() && !actor.IsDevAdmin() && t.UserID != actor.UserID {
		return nil, apperr.New(apperr.Forbidden, "thread %s belongs to another user", id)
	}
	return t, nil
}

func (h *ThreadsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	t, err := h.getOwned(r, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *ThreadsHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "name is required"))
		return
	}
	t, err := h.getOwned(r, actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.threads.SetUserRenamed(r.Context(), t.ThreadID, req.Name); err != nil {
		writeError(w, h.log, err)
		return
	}
	t.Name = req.Name
	t.UserRenamed = true
	t.NeedsNaming = false
	writeJSON(w, http.StatusOK, t)
}

// handleMarkNeedsNaming is called by the engine proxy after a run
// completes. Service credentials only.
func (h *ThreadsHandler) handleMarkNeedsNaming(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if !actor.IsService() {
		writeError(w, h.log, apperr.New(apperr.Forbidden, "service credentials required"))
		return
	}
	var req struct {
		UserID    string     `json:"user_id"`
		MessageAt *time.Time `json:"message_at,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.UserID == "" {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "user_id is required"))
		return
	}
	at := time.Now().UTC()
	if req.MessageAt != nil {
		at = req.MessageAt.UTC()
	}
	id := r.PathValue("id")
	if err := h.threads.MarkNeedsNaming(r.Context(), id, req.UserID, at); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"marked": true})
}
