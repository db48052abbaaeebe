// Package permissions evaluates and mutates per-user grants on graphs,
// assistants, and collections.
package permissions

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

// GrantResult reports whether a grant created a new row or updated one.
type GrantResult string

const (
	GrantCreated GrantResult = "created"
	GrantUpdated GrantResult = "updated"
)

// Engine is the permission evaluator. All authority checks funnel
// through it.
type Engine struct {
	users store.UserStore
	perms store.PermissionStore
	colls store.CollectionStore
	log   *slog.Logger
}

func NewEngine(users store.UserStore, perms store.PermissionStore, colls store.CollectionStore, log *slog.Logger) *Engine {
	return &Engine{users: users, perms: perms, colls: colls, log: log}
}

// CanAccess reports whether the actor holds at least the given level on
// the target. dev_admin short-circuits graph checks; service principals
// short-circuit everything. Collection owners are honored even without
// a permission row (legacy collections predate permission rows).
func (e *Engine) CanAccess(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, level store.Level) (bool, error) {
	if !store.ValidLevel(rt, level) {
		return false, apperr.New(apperr.InvalidInput, "invalid level %q for %s", level, rt)
	}
	if actor.IsService() {
		return true, nil
	}
	if rt == store.ResourceGraph && actor.IsDevAdmin() {
		return true, nil
	}

	have, err := e.Level(ctx, actor.UserID, rt, resourceID)
	if err != nil {
		return false, err
	}
	if have != "" && store.LevelRank(rt, have) >= store.LevelRank(rt, level) {
		return true, nil
	}

	if rt == store.ResourceCollection {
		owner, err := e.isCollectionOwner(ctx, actor.UserID, resourceID)
		if err != nil {
			return false, err
		}
		if owner {
			return true, nil
		}
	}
	return false, nil
}

// Level returns the actor's explicit level on the target, or "" for none.
func (e *Engine) Level(ctx context.Context, userID string, rt store.ResourceType, resourceID string) (store.Level, error) {
	p, err := e.perms.Get(ctx, rt, resourceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Level, nil
}

// Grant upserts a permission for recipient. The actor must hold manage
// authority on the target or be dev_admin.
func (e *Engine) Grant(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID, recipientID string, level store.Level) (GrantResult, error) {
	if !store.ValidLevel(rt, level) {
		return "", apperr.New(apperr.InvalidInput, "invalid level %q for %s", level, rt)
	}
	if err := e.requireManage(ctx, actor, rt, resourceID); err != nil {
		return "", err
	}
	if _, err := e.users.Get(ctx, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.New(apperr.NotFound, "user %s not found", recipientID)
		}
		return "", err
	}

	grantedBy := actor.UserID
	if actor.IsService() {
		grantedBy = "system:service"
	}
	created, err := e.perms.Upsert(ctx, rt, &store.Permission{
		ResourceID: resourceID,
		UserID:     recipientID,
		Level:      level,
		GrantedBy:  grantedBy,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	e.log.Info("permission granted",
		"resource_type", rt, "resource_id", resourceID,
		"recipient", recipientID, "level", level, "by", grantedBy)
	if created {
		return GrantCreated, nil
	}
	return GrantUpdated, nil
}

// Revoke removes recipient's permission on the target. Removing the
// last owner of an assistant or collection fails with LastOwner.
func (e *Engine) Revoke(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID, recipientID string) (bool, error) {
	if err := e.requireManage(ctx, actor, rt, resourceID); err != nil {
		return false, err
	}

	if rt != store.ResourceGraph {
		p, err := e.perms.Get(ctx, rt, resourceID, recipientID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		if p != nil && p.Level == store.LevelOwner {
			owners, err := e.perms.CountByLevel(ctx, rt, resourceID, store.LevelOwner)
			if err != nil {
				return false, err
			}
			if owners <= 1 {
				return false, apperr.New(apperr.LastOwner, "cannot revoke the last owner of %s %s", rt, resourceID)
			}
		}
	}

	removed, err := e.perms.Delete(ctx, rt, resourceID, recipientID)
	if err != nil {
		return false, err
	}
	if removed {
		e.log.Info("permission revoked",
			"resource_type", rt, "resource_id", resourceID, "recipient", recipientID)
	}
	return removed, nil
}

// List returns all grants on the target. Requires manage authority.
func (e *Engine) List(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) ([]store.Permission, error) {
	if err := e.requireManage(ctx, actor, rt, resourceID); err != nil {
		return nil, err
	}
	return e.perms.List(ctx, rt, resourceID)
}

// ListForUser returns every grant the user holds for one resource type.
func (e *Engine) ListForUser(ctx context.Context, userID string, rt store.ResourceType) ([]store.Permission, error) {
	return e.perms.ListForUser(ctx, rt, userID)
}

// CanManage reports whether the actor may grant, revoke, or list
// permissions on the target (share authority).
func (e *Engine) CanManage(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) (bool, error) {
	err := e.requireManage(ctx, actor, rt, resourceID)
	if apperr.Is(err, apperr.Forbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// requireManage checks grant/revoke/list authority: graph admin, or
// assistant/collection owner, or dev_admin, or a service principal.
func (e *Engine) requireManage(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) error {
	if actor.IsService() || actor.IsDevAdmin() {
		return nil
	}
	manageLevel := store.LevelOwner
	if rt == store.ResourceGraph {
		manageLevel = store.LevelAdmin
	}
	have, err := e.Level(ctx, actor.UserID, rt, resourceID)
	if err != nil {
		return err
	}
	if have != "" && store.LevelRank(rt, have) >= store.LevelRank(rt, manageLevel) {
		return nil
	}
	if rt == store.ResourceCollection {
		owner, err := e.isCollectionOwner(ctx, actor.UserID, resourceID)
		if err != nil {
			return err
		}
		if owner {
			return nil
		}
	}
	return apperr.New(apperr.Forbidden, "%s authority required on %s %s", manageLevel, rt, resourceID)
}

func (e *Engine) isCollectionOwner(ctx context.Context, userID, resourceID string) (bool, error) {
	id, err := uuid.Parse(resourceID)
	if err != nil {
		return false, nil
	}
	c, err := e.colls.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.OwnerID == userID, nil
}
