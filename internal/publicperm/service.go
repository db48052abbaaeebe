// Package publicperm materializes "everyone" grants across the user
// population and keeps them consistent through revokes and backfills.
package publicperm

import (
	"context"
	"log/slog"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

// AssistantLister returns mirrored assistants for a graph, used by the
// graph-to-assistant revoke cascade.
type AssistantLister interface {
	ListAssistants(ctx context.Context, opts store.AssistantListOpts) ([]store.AssistantMirror, int, error)
}

// CreateResult reports a materialized public permission.
type CreateResult struct {
	Permission   *store.PublicPermission `json:"permission"`
	UsersGranted int                     `json:"users_granted"`
}

// RevokeResult reports a revoke, including cascaded assistant revokes.
type RevokeResult struct {
	RowsRemoved      int      `json:"rows_removed"`
	CascadedTargets  []string `json:"cascaded_targets,omitempty"`
	CascadedRemovals int      `json:"cascaded_removals,omitempty"`
}

// Service manages public permissions. All mutations require an admin
// or service actor.
type Service struct {
	public store.PublicPermissionStore
	perms  store.PermissionStore
	mirror AssistantLister
	log    *slog.Logger
}

func NewService(public store.PublicPermissionStore, perms store.PermissionStore, mirror AssistantLister, log *slog.Logger) *Service {
	return &Service{public: public, perms: perms, mirror: mirror, log: log}
}

// Create opens a resource to all users: inserts the public row and fans
// out per-user grants tagged system:public in one transaction. Fails
// with Conflict if an active public row already exists.
func (s *Service) Create(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, level store.Level, notes string) (*CreateResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !store.ValidResourceType(rt) {
		return nil, apperr.New(apperr.InvalidInput, "unknown resource type %q", rt)
	}
	if !store.ValidLevel(rt, level) {
		return nil, apperr.New(apperr.InvalidInput, "invalid level %q for %s", level, rt)
	}

	existing, err := s.public.GetActive(ctx, rt, resourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.Conflict, "%s %s already has an active public permission", rt, resourceID)
	}

	pp := &store.PublicPermission{
		ResourceType: rt,
		ResourceID:   resourceID,
		Level:        level,
		CreatedBy:    actor.UserID,
		CreatedAt:    time.Now().UTC(),
		Notes:        notes,
	}
	granted, err := s.public.CreateWithFanout(ctx, pp)
	if err != nil {
		return nil, err
	}
	s.log.Info("public permission created",
		"resource_type", rt, "resource_id", resourceID, "level", level, "users_granted", granted)
	return &CreateResult{Permission: pp, UsersGranted: granted}, nil
}

// Revoke withdraws a public permission. future_only leaves existing
// grants; revoke_all also deletes the materialized rows. Revoking a
// public graph permission cascades to active public permissions of the
// graph's assistants with the same mode.
func (s *Service) Revoke(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, mode store.RevokeMode) (*RevokeResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !store.ValidRevokeMode(mode) {
		return nil, apperr.New(apperr.InvalidInput, "unknown revoke mode %q", mode)
	}

	removed, err := s.public.Revoke(ctx, rt, resourceID, mode)
	if err != nil {
		return nil, err
	}
	result := &RevokeResult{RowsRemoved: removed}

	if rt == store.ResourceGraph {
		if err := s.cascadeGraphRevoke(ctx, resourceID, mode, result); err != nil {
			return nil, err
		}
	}

	s.log.Info("public permission revoked",
		"resource_type", rt, "resource_id", resourceID, "mode", mode,
		"rows_removed", result.RowsRemoved, "cascaded", len(result.CascadedTargets))
	return result, nil
}

// cascadeGraphRevoke revokes active public permissions on the graph's
// assistants. Assistants without an active public row are skipped.
func (s *Service) cascadeGraphRevoke(ctx context.Context, graphID string, mode store.RevokeMode, result *RevokeResult) error {
	assistants, _, err := s.mirror.ListAssistants(ctx, store.AssistantListOpts{GraphID: graphID})
	if err != nil {
		return err
	}
	for _, a := range assistants {
		aid := a.AssistantID.String()
		active, err := s.public.GetActive(ctx, store.ResourceAssistant, aid)
		if err != nil {
			return err
		}
		if active == nil && mode != store.RevokeAll {
			continue
		}
		removed, err := s.public.Revoke(ctx, store.ResourceAssistant, aid, mode)
		if err != nil {
			if apperr.Is(err, apperr.NotFound) || apperr.Is(err, apperr.Conflict) {
				continue
			}
			return err
		}
		result.CascadedTargets = append(result.CascadedTargets, aid)
		result.CascadedRemovals += removed
	}
	return nil
}

// Reinvoke reactivates the most recent revoked public row. No
// re-fanout happens; call Backfill to grant users who joined while the
// permission was revoked.
func (s *Service) Reinvoke(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) (*store.PublicPermission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	active, err := s.public.GetActive(ctx, rt, resourceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.New(apperr.Conflict, "%s %s already has an active public permission", rt, resourceID)
	}
	pp, err := s.public.Reinvoke(ctx, rt, resourceID)
	if err != nil {
		return nil, err
	}
	s.log.Info("public permission reinvoked", "resource_type", rt, "resource_id", resourceID)
	return pp, nil
}

// Backfill grants the active public permission to every user missing
// it. Returns the number of grants inserted.
func (s *Service) Backfill(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) (int, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	active, err := s.public.GetActive(ctx, rt, resourceID)
	if err != nil {
		return 0, err
	}
	if active == nil {
		return 0, apperr.New(apperr.NotFound, "no active public permission on %s %s", rt, resourceID)
	}
	granted, err := s.perms.GrantToAllUsers(ctx, rt, resourceID, active.Level, store.GrantedBySystemPublic)
	if err != nil {
		return 0, err
	}
	s.log.Info("public permission backfilled",
		"resource_type", rt, "resource_id", resourceID, "users_granted", granted)
	return granted, nil
}

// List returns public permissions for one resource kind, newest first.
func (s *Service) List(ctx context.Context, actor auth.Actor, rt store.ResourceType) ([]store.PublicPermission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.public.List(ctx, rt)
}

// GrantActiveToUser applies every active public permission to a newly
// registered user. Called from the user-provisioning path.
func (s *Service) GrantActiveToUser(ctx context.Context, userID string) (int, error) {
	active, err := s.public.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	granted := 0
	for _, pp := range active {
		created, err := s.perms.GrantToUser(ctx, pp.ResourceType, pp.ResourceID, userID, pp.Level, store.GrantedBySystemPublic)
		if err != nil {
			return granted, err
		}
		if created {
			granted++
		}
	}
	if granted > 0 {
		s.log.Info("auto-granted public permissions", "user", userID, "count", granted)
	}
	return granted, nil
}

func requireAdmin(actor auth.Actor) error {
	if actor.IsService() || actor.IsAdmin() {
		return nil
	}
	return apperr.New(apperr.Forbidden, "admin authority required")
}
