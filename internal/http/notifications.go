package http

import (
	"log/slog"
	"net/http"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/notifications"
	"github.com/oap-labs/oapd/internal/store"
)

// NotificationsHandler serves the share-invitation lifecycle.
type NotificationsHandler struct {
	svc  *notifications.Service
	auth *Auth
	log  *slog.Logger
}

func NewNotificationsHandler(svc *notifications.Service, auth *Auth, log *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{svc: svc, auth: auth, log: log}
}

func (h *NotificationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/notifications", h.auth.Middleware(h.handleList))
	mux.HandleFunc("GET /v1/notifications/unread-count", h.auth.Middleware(h.handleUnreadCount))
	mux.HandleFunc("POST /v1/notifications", h.auth.Middleware(h.handleCreate))
	mux.HandleFunc("POST /v1/notifications/{id}/accept", h.auth.Middleware(h.handleAccept))
	mux.HandleFunc("POST /v1/notifications/{id}/reject", h.auth.Middleware(h.handleReject))
}

func (h *NotificationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	opts := store.NotificationListOpts{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.NotificationStatus(raw)
		opts.Status = &status
	}
	result, err := h.svc.List(r.Context(), actor, opts)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *NotificationsHandler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), actor)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

func (h *NotificationsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	var req struct {
		RecipientID string                 `json:"recipient_id"`
		Type        store.NotificationType `json:"type"`
		ResourceID  string                 `json:"resource_id"`
		Level       store.Level            `json:"permission_level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.RecipientID == "" || req.ResourceID == "" {
		writeError(w, h.log, apperr.New(apperr.InvalidInput, "recipient_id and resource_id are required"))
		return
	}
	n, err := h.svc.Create(r.Context(), actor, req.RecipientID, req.Type, req.ResourceID, req.Level)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *NotificationsHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.Accept(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *NotificationsHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r, h.log)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	n, err := h.svc.Reject(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
