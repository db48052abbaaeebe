// Package notifications implements share invitations between users and
// the graph-first guided acceptance flow.
package notifications

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// PermChecker is the slice of the permission engine the service needs.
type PermChecker interface {
	CanManage(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) (bool, error)
	CanAccess(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, level store.Level) (bool, error)
}

// UserGetter resolves user rows for recipient checks and sender names.
type UserGetter interface {
	Get(ctx context.Context, id string) (*store.User, error)
}

// ResourceResolver resolves mirror rows for display names and the
// graph-first check.
type ResourceResolver interface {
	GetGraph(ctx context.Context, graphID string) (*store.GraphMirror, error)
	GetAssistant(ctx context.Context, id uuid.UUID) (*store.AssistantMirror, error)
}

// CollectionGetter resolves collection rows for display names.
type CollectionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*store.Collection, error)
}

// AcceptStatus is the outcome of an accept call.
type AcceptStatus string

const (
	AcceptGranted AcceptStatus = "granted"
	AcceptGuided  AcceptStatus = "guided"
)

// AcceptResult is returned from Accept. A guided result leaves the
// original notification pending and points the client at the graph
// share it must accept first.
type AcceptResult struct {
	Status       AcceptStatus        `json:"status"`
	Notification *store.Notification `json:"notification"`
	// NextAction is "accept_graph" for guided results.
	NextAction                 string     `json:"next_action,omitempty"`
	RelatedGraphNotificationID *uuid.UUID `json:"related_graph_notification_id,omitempty"`
}

// Service implements the notification lifecycle.
type Service struct {
	notifs store.NotificationStore
	users  UserGetter
	mirror ResourceResolver
	colls  CollectionGetter
	perms  PermChecker
	expiry time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func NewService(notifs store.NotificationStore, users UserGetter, mirror ResourceResolver, colls CollectionGetter, perms PermChecker, expiry time.Duration, log *slog.Logger) *Service {
	return &Service{
		notifs: notifs,
		users:  users,
		mirror: mirror,
		colls:  colls,
		perms:  perms,
		expiry: expiry,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create sends a share invitation. Idempotent: an equivalent pending
// invitation is returned instead of duplicated. The sender must hold
// share authority on the resource.
func (s *Service) Create(ctx context.Context, sender auth.Actor, recipientID string, t store.NotificationType, resourceID string, level store.Level) (*store.Notification, error) {
	rt := t.ResourceType()
	if !store.ValidLevel(rt, level) {
		return nil, apperr.New(apperr.InvalidInput, "invalid level %q for %s", level, t)
	}
	if recipientID == sender.UserID {
		return nil, apperr.New(apperr.InvalidInput, "cannot share a resource with yourself")
	}

	ok, err := s.perms.CanManage(ctx, sender, rt, resourceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.Forbidden, "share authority required on %s %s", rt, resourceID)
	}

	if _, err := s.users.Get(ctx, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "recipient %s not found", recipientID)
		}
		return nil, err
	}

	now := s.now()
	existing, err := s.notifs.FindPendingEquivalent(ctx, recipientID, t, resourceID, sender.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Expired(now) {
			return existing, nil
		}
		// Stale pending row: stamp it expired and fall through to a new one.
		if err := s.notifs.UpdateStatus(ctx, existing.ID, store.NotificationExpired, now); err != nil {
			return nil, err
		}
	}

	senderName := sender.UserID
	if u, err := s.users.Get(ctx, sender.UserID); err == nil {
		if u.DisplayName != "" {
			senderName = u.DisplayName
		} else {
			senderName = u.Email
		}
	}
	name, desc := s.resolveResource(ctx, rt, resourceID)

	n := &store.Notification{
		ID:                  store.GenNewID(),
		RecipientID:         recipientID,
		Type:                t,
		ResourceID:          resourceID,
		PermissionLevel:     level,
		SenderID:            sender.UserID,
		SenderDisplayName:   senderName,
		Status:              store.NotificationPending,
		ResourceName:        name,
		ResourceDescription: desc,
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(s.expiry),
	}
	if err := s.notifs.Create(ctx, n); err != nil {
		return nil, err
	}
	s.log.Info("notification created",
		"id", n.ID, "type", t, "resource_id", resourceID,
		"recipient", recipientID, "sender", sender.UserID)
	return n, nil
}

// Accept applies a pending invitation. For assistant shares the
// recipient must already hold graph access; when missing, Accept
// returns a guided result and leaves the invitation pending so the
// client can accept the graph share first and retry.
func (s *Service) Accept(ctx context.Context, recipient auth.Actor, id uuid.UUID) (*AcceptResult, error) {
	n, err := s.loadForResponse(ctx, recipient, id)
	if err != nil {
		return nil, err
	}

	if n.Type == store.NotifyAssistantShare {
		guided, err := s.maybeGuide(ctx, recipient, n)
		if err != nil {
			return nil, err
		}
		if guided != nil {
			return guided, nil
		}
	}

	rt := n.Type.ResourceType()
	err = s.notifs.AcceptAndGrant(ctx, n.ID, rt, &store.Permission{
		ResourceID: n.ResourceID,
		UserID:     n.RecipientID,
		Level:      n.PermissionLevel,
		GrantedBy:  n.SenderID,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}

	n.Status = store.NotificationAccepted
	s.log.Info("notification accepted", "id", n.ID, "type", n.Type, "recipient", recipient.UserID)
	return &AcceptResult{Status: AcceptGranted, Notification: n}, nil
}

// Reject declines a pending invitation.
func (s *Service) Reject(ctx context.Context, recipient auth.Actor, id uuid.UUID) (*store.Notification, error) {
	n, err := s.loadForResponse(ctx, recipient, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.notifs.UpdateStatus(ctx, n.ID, store.NotificationRejected, now); err != nil {
		return nil, err
	}
	n.Status = store.NotificationRejected
	n.RespondedAt = &now
	return n, nil
}

// List returns the recipient's notifications newest-first. Pending rows
// past expiry are reported as expired even before the sweeper runs.
func (s *Service) List(ctx context.Context, recipient auth.Actor, opts store.NotificationListOpts) (*store.NotificationListResult, error) {
	res, err := s.notifs.List(ctx, recipient.UserID, opts)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range res.Notifications {
		if res.Notifications[i].Expired(now) {
			res.Notifications[i].Status = store.NotificationExpired
		}
	}
	return res, nil
}

// UnreadCount returns the recipient's live pending count.
func (s *Service) UnreadCount(ctx context.Context, recipient auth.Actor) (int, error) {
	return s.notifs.UnreadCount(ctx, recipient.UserID)
}

// ExpireDue sweeps pending rows past their expiry.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.notifs.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired notifications", "count", n)
	}
	return n, nil
}

// loadForResponse fetches the notification and verifies the caller may
// respond to it right now.
func (s *Service) loadForResponse(ctx context.Context, recipient auth.Actor, id uuid.UUID) (*store.Notification, error) {
	n, err := s.notifs.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "notification %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if n.RecipientID != recipient.UserID {
		return nil, apperr.New(apperr.Forbidden, "notification %s is not addressed to you", id)
	}
	if n.Expired(s.now()) {
		return nil, apperr.New(apperr.NotPending, "notification %s has expired", id)
	}
	if n.Status != store.NotificationPending {
		return nil, apperr.New(apperr.NotPending, "notification %s is %s", id, n.Status)
	}
	return n, nil
}

// maybeGuide returns a guided result when the recipient lacks graph
// access for an assistant share, creating or reusing a sibling
// graph_share invitation. Returns nil when acceptance can proceed.
func (s *Service) maybeGuide(ctx context.Context, recipient auth.Actor, n *store.Notification) (*AcceptResult, error) {
	aid, err := uuid.Parse(n.ResourceID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "bad assistant id %q", n.ResourceID)
	}
	a, err := s.mirror.GetAssistant(ctx, aid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "assistant %s not found", n.ResourceID)
	}
	if err != nil {
		return nil, err
	}

	hasGraph, err := s.perms.CanAccess(ctx, recipient, store.ResourceGraph, a.GraphID, store.LevelAccess)
	if err != nil {
		return nil, err
	}
	if hasGraph {
		return nil, nil
	}

	now := s.now()
	sibling, err := s.notifs.FindPendingEquivalent(ctx, n.RecipientID, store.NotifyGraphShare, a.GraphID, n.SenderID)
	if err != nil {
		return nil, err
	}
	if sibling == nil || sibling.Expired(now) {
		graphName, graphDesc := s.resolveResource(ctx, store.ResourceGraph, a.GraphID)
		sibling = &store.Notification{
			ID:                  store.GenNewID(),
			RecipientID:         n.RecipientID,
			Type:                store.NotifyGraphShare,
			ResourceID:          a.GraphID,
			PermissionLevel:     store.LevelAccess,
			SenderID:            n.SenderID,
			SenderDisplayName:   n.SenderDisplayName,
			Status:              store.NotificationPending,
			ResourceName:        graphName,
			ResourceDescription: graphDesc,
			CreatedAt:           now,
			UpdatedAt:           now,
			ExpiresAt:           now.Add(s.expiry),
		}
		if err := s.notifs.Create(ctx, sibling); err != nil {
			return nil, err
		}
		s.log.Info("guided accept: created sibling graph share",
			"assistant_notification", n.ID, "graph_notification", sibling.ID, "graph_id", a.GraphID)
	}

	sid := sibling.ID
	return &AcceptResult{
		Status:                     AcceptGuided,
		Notification:               n,
		NextAction:                 "accept_graph",
		RelatedGraphNotificationID: &sid,
	}, nil
}

// resolveResource looks up a display name and description for the
// shared resource. Best effort; missing rows yield empty strings.
func (s *Service) resolveResource(ctx context.Context, rt store.ResourceType, resourceID string) (name, desc string) {
	switch rt {
	case store.ResourceGraph:
		if g, err := s.mirror.GetGraph(ctx, resourceID); err == nil {
			return g.Name, g.Description
		}
	case store.ResourceAssistant:
		if id, err := uuid.Parse(resourceID); err == nil {
			if a, err := s.mirror.GetAssistant(ctx, id); err == nil {
				return a.Name, a.Description
			}
		}
	case store.ResourceCollection:
		if id, err := uuid.Parse(resourceID); err == nil {
			if c, err := s.colls.Get(ctx, id); err == nil {
				return c.Name, ""
			}
		}
	}
	return "", ""
}
