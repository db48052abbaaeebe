package http

import (
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/publicperm"
	"github.com/oap-labs/oapd/internal/store"
)

// PublicPermissionsHandler serves the admin-managed "everyone" grants.
type PublicPermissionsHandler struct {
	svc  *publicperm.Service
	auth *Auth
	log  *slog.Logger
}

func NewPublicPermissionsHandler(svc *publicperm.Service, auth *Auth, log *slog.Logger) *PublicPermissionsHandler {
	return &PublicPermissionsHandler{svc: svc, auth: auth, log: log}
}

func (h *PublicPermissionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/public-permissions", h.auth.Middleware(h.handleList))
	mux.HandleFunc("POST /v1/public-permissions", h.auth.Middleware(h.handleCreate))
	mux.HandleFunc("POST /v1/public-permissions/revoke", h.auth.Middleware(h.handleRevoke))
	mux.HandleFunc("POST /v1/public-permissions/reinvoke", h.auth.Middleware(h.handleReinvoke))
	mux.HandleFunc("POST /v1/public-permissions/backfill", h.auth.Middleware(h.handleBackfill))
}

type publicTarget struct {
	ResourceType store.ResourceType `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
}

func (t *publicTarget) validate() error {
	if !store.ValidResourceType(t.ResourceType) {
		return apperr.New(apperr.InvalidInput, "unknown resource_type %q", t.ResourceType)
	}
	if t.ResourceID == "" {
		return apperr.New(apperr.InvalidInput, "resource_id is required")
	}
	return nil
}

func (h *PublicPermissionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	rt := store.ResourceType(r.URL.Query().Get("resource_type"))
	if !store.ValidResourceType(rt) {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "unknown resource_type %q", rt))
		return
	}
	rows, err := h.svc.List(r.Context(), actor, rt)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"public_permissions": rows})
}

func (h *PublicPermissionsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req struct {
		publicTarget
		Level store.Level `json:"permission_level"`
		Notes string      `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.Create(r.Context(), actor, req.ResourceType, req.ResourceID, req.Level, req.Notes)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *PublicPermissionsHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req struct {
		publicTarget
		Mode store.RevokeMode `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.Revoke(r.Context(), actor, req.ResourceType, req.ResourceID, req.Mode)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PublicPermissionsHandler) handleReinvoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req publicTarget
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.log, err)
		return
	}
	pp, err := h.svc.Reinvoke(r.Context(), actor, req.ResourceType, req.ResourceID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, pp)
}

func (h *PublicPermissionsHandler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req publicTarget
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, h.log, err)
		return
	}
	granted, err := h.svc.Backfill(r.Context(), actor, req.ResourceType, req.ResourceID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"users_granted": granted})
}
