package store

import (
	"context"
	"time"
)

// ResourceType identifies which permission table a grant lives in.
type ResourceType string

const (
	ResourceGraph      ResourceType = "graph"
	ResourceAssistant  ResourceType = "assistant"
	ResourceCollection ResourceType = "collection"
)

// ValidResourceType reports whether rt names a known resource kind.
func ValidResourceType(rt ResourceType) bool {
	switch rt {
	case ResourceGraph, ResourceAssistant, ResourceCollection:
		return true
	}
	return false
}

// Level is a permission level. Graphs use access<admin; assistants and
// collections use viewer<editor<owner.
type Level string

const (
	LevelAccess Level = "access"
	LevelAdmin  Level = "admin"
	LevelViewer Level = "viewer"
	LevelEditor Level = "editor"
	LevelOwner  Level = "owner"
)

// LevelRank returns the ordering rank of level for the given resource type,
// or -1 if the level is not in that resource's set.
func LevelRank(rt ResourceType, l Level) int {
	if rt == ResourceGraph {
		switch l {
		case LevelAccess:
			return 0
		case LevelAdmin:
			return 1
		}
		return -1
	}
	switch l {
	case LevelViewer:
		return 0
	case LevelEditor:
		return 1
	case LevelOwner:
		return 2
	}
	return -1
}

// ValidLevel reports whether l belongs to rt's level set.
func ValidLevel(rt ResourceType, l Level) bool { return LevelRank(rt, l) >= 0 }

// GrantedBySystemPublic tags permission rows materialized from a public
// permission, so revoke_all can find them.
const GrantedBySystemPublic = "system:public"

// Permission is one per-user grant on a resource.
// ResourceID is the external string id for graphs and a UUID string for
// assistants and collections.
type Permission struct {
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Level      Level     `json:"level"`
	GrantedBy  string    `json:"granted_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PermissionStore persists per-user grants, one table per resource type,
// unique on (resource_id, user_id).
type PermissionStore interface {
	Get(ctx context.Context, rt ResourceType, resourceID, userID string) (*Permission, error)
	// Upsert inserts or updates the grant; created reports insertion.
	Upsert(ctx context.Context, rt ResourceType, p *Permission) (created bool, err error)
	// Delete removes the grant; returns false if no row existed.
	Delete(ctx context.Context, rt ResourceType, resourceID, userID string) (bool, error)
	List(ctx context.Context, rt ResourceType, resourceID string) ([]Permission, error)
	ListForUser(ctx context.Context, rt ResourceType, userID string) ([]Permission, error)
	// CountByLevel counts grants at exactly the given level (last-owner guard).
	CountByLevel(ctx context.Context, rt ResourceType, resourceID string, l Level) (int, error)
	// GrantToAllUsers fans a grant out to every user, skipping conflicts.
	// Returns the number of rows inserted.
	GrantToAllUsers(ctx context.Context, rt ResourceType, resourceID string, l Level, grantedBy string) (int, error)
	// GrantToUser inserts a grant for one user only if absent (backfill,
	// auto-grant on user creation). Returns false when a row already existed.
	GrantToUser(ctx context.Context, rt ResourceType, resourceID, userID string, l Level, grantedBy string) (bool, error)
	// DeleteByGrantedBy removes all grants on the resource tagged with
	// grantedBy (revoke_all). Returns the number of rows removed.
	DeleteByGrantedBy(ctx context.Context, rt ResourceType, resourceID, grantedBy string) (int, error)
}
