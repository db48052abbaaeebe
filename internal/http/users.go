package http

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// UsersHandler serves user listing, profile, and role management.
type UsersHandler struct {
	users store.UserStore
	auth  *Auth
	log   *slog.Logger
}

func NewUsersHandler(users store.UserStore, auth *Auth, log *slog.Logger) *UsersHandler {
	return &UsersHandler{users: users, auth: auth, log: log}
}

func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/users", h.auth.Middleware(h.handleList))
	mux.HandleFunc("GET /v1/users/me", h.auth.Middleware(h.handleMe))
	mux.HandleFunc("PUT /v1/users/{id}/role", h.auth.Middleware(h.handleSetRole))
}

func (h *UsersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if !actor.IsService() && !actor.IsAdmin() {
		writeError(w, h.log, apperr.New(apperr.Forbidden, "user listing requires an admin role"))
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	users, total, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total_count": total})
}

func (h *UsersHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if actor.UserID == "" {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "service request without a user identity"))
		return
	}
	u, err := h.users.Get(r.Context(), actor.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, h.log, apperr.New(apperr.NotFound, "user %s not found", actor.UserID))
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UsersHandler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	if !actor.IsService() && !actor.IsDevAdmin() {
		writeError(w, h.log, apperr.New(apperr.Forbidden, "role changes require dev_admin"))
		return
	}
	var req struct {
		Role auth.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if !auth.ValidRole(req.Role) {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "unknown role %q", req.Role))
		return
	}
	id := r.PathValue("id")
	if err := h.users.UpdateRole(r.Context(), id, req.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = apperr.New(apperr.NotFound, "user %s not found", id)
		}
		writeError(w, h.log, err)
		return
	}
	h.log.Info("role updated", "user", id, "role", req.Role, "by", actor.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": id, "role": string(req.Role)})
}
