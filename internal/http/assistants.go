package http

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/permissions"
	"github.com/oap-labs/oapd/internal/store"
	"github.com/oap-labs/oapd/internal/versions"
)

// AssistantsHandler serves mirrored assistants, graphs, schemas, and
// version history.
type AssistantsHandler struct {
	mirror   store.MirrorStore
	perms    *permissions.Engine
	versions *versions.Service
	auth     *Auth
	log      *slog.Logger
}

func NewAssistantsHandler(mirror store.MirrorStore, perms *permissions.Engine, vers *versions.Service, auth *Auth, log *slog.Logger) *AssistantsHandler {
	return &AssistantsHandler{mirror: mirror, perms: perms, versions: vers, auth: auth, log: log}
}

func (h *AssistantsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/assistants", h.auth.Middleware(h.handleList))
	mux.HandleFunc("GET /v1/assistants/{id}", h.auth.Middleware(h.handleGet))
	mux.HandleFunc("GET /v1/assistants/{id}/schemas", h.auth.Middleware(h.handleSchemas))
	mux.HandleFunc("GET /v1/assistants/{id}/versions", h.auth.Middleware(h.handleListVersions))
	mux.HandleFunc("POST /v1/assistants/{id}/versions/{version}/restore", h.auth.Middleware(h.handleRestore))
	mux.HandleFunc("GET /v1/graphs", h.auth.Middleware(h.handleListGraphs))
	mux.HandleFunc("GET /v1/graphs/{id}", h.auth.Middleware(h.handleGetGraph))
}

// accessibleAssistants filters mirror rows to what the actor may see:
// a direct assistant grant, graph-level access, or admin/service
// authority. Templates stay hidden from user listings.
func (h *AssistantsHandler) accessibleAssistants(r *http.Request, actor auth.Actor, rows []store.AssistantMirror) ([]store.AssistantMirror, error) {
	if actor.IsService() || actor.IsDevAdmin() {
		return rows, nil
	}
	direct, err := h.perms.ListForUser(r.Context(), actor.UserID, store.ResourceAssistant)
	if err != nil {
		return nil, err
	}
	graphs, err := h.perms.ListForUser(r.Context(), actor.UserID, store.ResourceGraph)
	if err != nil {
		return nil, err
	}
	assistantIDs := map[string]bool{}
	for _, p := range direct {
		assistantIDs[p.ResourceID] = true
	}
	graphIDs := map[string]bool{}
	for _, p := range graphs {
		graphIDs[p.ResourceID] = true
	}
	var out []store.AssistantMirror
	for _, a := range rows {
		if assistantIDs[a.AssistantID.String()] || graphIDs[a.GraphID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (h *AssistantsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	opts := store.AssistantListOpts{
		GraphID:       r.URL.Query().Get("graph_id"),
		HideTemplates: !actor.IsService(),
		Limit:         queryInt(r, "limit", 100),
		Offset:        queryInt(r, "offset", 0),
	}
	rows, _, err := h.mirror.ListAssistants(r.Context(), opts)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	visible, err := h.accessibleAssistants(r, actor, rows)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assistants":  visible,
		"total_count": len(visible),
	})
}

func (h *AssistantsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	a, err := h.mirror.GetAssistant(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, h.log, apperr.New(apperr.NotFound, "assistant %s not found", id))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.requireAssistantAccess(r, actor, a, store.LevelViewer); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AssistantsHandler) handleSchemas(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	a, err := h.mirror.GetAssistant(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, h.log, apperr.New(apperr.NotFound, "assistant %s not found", id))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.requireAssistantAccess(r, actor, a, store.LevelViewer); err != nil {
		writeError(w, h.log, err)
		return
	}
	schemas, err := h.mirror.GetSchemas(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, h.log, apperr.New(apperr.NotFound, "assistant %s has no schemas mirrored", id))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas)
}

func (h *AssistantsHandler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.requireAccessByID(r, actor, id, store.LevelViewer); err != nil {
		writeError(w, h.log, err)
		return
	}
	list, err := h.versions.List(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": list})
}

func (h *AssistantsHandler) handleRestore(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "version must be a positive integer"))
		return
	}
	if err := h.requireAccessByID(r, actor, id, store.LevelEditor); err != nil {
		writeError(w, h.log, err)
		return
	}
	updated, err := h.versions.Restore(r.Context(), actor, id, version)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *AssistantsHandler) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOr401(w, r, h.log); !ok {
		return
	}
	activeOnly := r.URL.Query().Get("include_inactive") == ""
	graphs, err := h.mirror.ListGraphs(r.Context(), activeOnly)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"graphs": graphs})
}

func (h *AssistantsHandler) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorOr401(w, r, h.log); !ok {
		return
	}
	g, err := h.mirror.GetGraph(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, h.log, apperr.New(apperr.NotFound, "graph %s not found", r.PathValue("id")))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// requireAssistantAccess grants on a direct assistant permission or
// graph-level access on the assistant's graph.
func (h *AssistantsHandler) requireAssistantAccess(r *http.Request, actor auth.Actor, a *store.AssistantMirror, level store.Level) error {
	ok, err := h.perms.CanAccess(r.Context(), actor, store.ResourceAssistant, a.AssistantID.String(), level)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	ok, err = h.perms.CanAccess(r.Context(), actor, store.ResourceGraph, a.GraphID, store.LevelAccess)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "no access to assistant %s", a.AssistantID)
	}
	return nil
}

func (h *AssistantsHandler) requireAccessByID(r *http.Request, actor auth.Actor, id uuid.UUID, level store.Level) error {
	a, err := h.mirror.GetAssistant(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, "assistant %s not found", id)
	}
	if err != nil {
		return err
	}
	return h.requireAssistantAccess(r, actor, a, level)
}
