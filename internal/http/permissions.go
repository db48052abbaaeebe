package http

import (
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/permissions"
	"github.com/oap-labs/oapd/internal/store"
)

// PermissionsHandler serves per-user grants on graphs, assistants, and
// collections.
type PermissionsHandler struct {
	engine *permissions.Engine
	auth   *Auth
	log    *slog.Logger
}

func NewPermissionsHandler(engine *permissions.Engine, auth *Auth, log *slog.Logger) *PermissionsHandler {
	return &PermissionsHandler{engine: engine, auth: auth, log: log}
}

func (h *PermissionsHandler) RegisterRoutes(mux *http.ServeMux) {
	for _, kind := range []string{"graphs", "assistants", "collections"} {
		mux.HandleFunc("GET /v1/"+kind+"/{id}/permissions", h.auth.Middleware(h.listFor(kind)))
		mux.HandleFunc("POST /v1/"+kind+"/{id}/permissions", h.auth.Middleware(h.grantFor(kind)))
		mux.HandleFunc("DELETE /v1/"+kind+"/{id}/permissions/{userID}", h.auth.Middleware(h.revokeFor(kind)))
	}
	mux.HandleFunc("GET /v1/permissions/mine", h.auth.Middleware(h.handleMine))
}

func resourceTypeFor(kind string) store.ResourceType {
	switch kind {
	case "graphs":
		return store.ResourceGraph
	case "assistants":
		return store.ResourceAssistant
	default:
		return store.ResourceCollection
	}
}

func (h *PermissionsHandler) listFor(kind string) http.HandlerFunc {
	rt := resourceTypeFor(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOr401(w, r, h.log)
		if !ok {
			return
		}
		perms, err := h.engine.List(r.Context(), actor, rt, r.PathValue("id"))
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
	}
}

func (h *PermissionsHandler) grantFor(kind string) http.HandlerFunc {
	rt := resourceTypeFor(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOr401(w, r, h.log)
		if !ok {
			return
		}
		var req struct {
			UserID string      `json:"user_id"`
			Level  store.Level `json:"level"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.log, err)
			return
		}
		if req.UserID == "" {
			writeError(w, h.log, apperr.New(apperr.InvalidInput, "user_id is required"))
			return
		}
		result, err := h.engine.Grant(r.Context(), actor, rt, r.PathValue("id"), req.UserID, req.Level)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		status := http.StatusOK
		if result == permissions.GrantCreated {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]string{"result": string(result)})
	}
}

func (h *PermissionsHandler) revokeFor(kind string) http.HandlerFunc {
	rt := resourceTypeFor(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorOr401(w, r, h.log)
		if !ok {
			return
		}
		removed, err := h.engine.Revoke(r.Context(), actor, rt, r.PathValue("id"), r.PathValue("userID"))
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	}
}

// handleMine lists the caller's own grants for one resource kind.
func (h *PermissionsHandler) handleMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	rt := store.ResourceType(r.URL.Query().Get("resource_type"))
	if !store.ValidResourceType(rt) {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "unknown resource_type %q", rt))
		return
	}
	perms, err := h.engine.ListForUser(r.Context(), actor.UserID, rt)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}
