// Package versions keeps append-only assistant configuration history
// and restores past snapshots through the upstream engine.
package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/store"
)

// EngineClient is the slice of the upstream client this service needs.
type EngineClient interface {
	GetAssistant(ctx context.Context, id string) (*langgraph.Assistant, error)
	ListVersions(ctx context.Context, id string) ([]langgraph.Assistant, error)
	UpdateAssistant(ctx context.Context, id string, patch langgraph.UpdatePayload) (*langgraph.Assistant, error)
}

// TargetedSyncer refreshes one assistant's mirror row after a restore.
type TargetedSyncer interface {
	SyncAssistant(ctx context.Context, id uuid.UUID) error
}

// SyncFunc adapts a plain function to TargetedSyncer.
type SyncFunc func(ctx context.Context, id uuid.UUID) error

func (f SyncFunc) SyncAssistant(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

type Service struct {
	versions store.VersionStore
	engine   EngineClient
	sync     TargetedSyncer
	log      *slog.Logger
}

func NewService(versions store.VersionStore, engine EngineClient, sync TargetedSyncer, log *slog.Logger) *Service {
	return &Service{versions: versions, engine: engine, sync: sync, log: log}
}

// Record snapshots an upstream assistant record. Re-recording an
// already-known version is a no-op.
func (s *Service) Record(ctx context.Context, a *langgraph.Assistant, commitMessage, createdBy string) error {
	id, err := uuid.Parse(a.AssistantID)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, err, "assistant id %q", a.AssistantID)
	}
	_, err = s.versions.Insert(ctx, &store.AssistantVersion{
		AssistantID:        id,
		Version:            a.Version,
		Name:               a.Name,
		Description:        a.Description,
		Config:             a.Config,
		Metadata:           a.Metadata,
		Tags:               a.Tags(),
		LanggraphCreatedAt: a.CreatedAt,
		CommitMessage:      commitMessage,
		CreatedBy:          createdBy,
	})
	return err
}

// List merges local snapshots with upstream history, deduplicated by
// version, newest first. Upstream versions not seen locally are saved
// on first observation so later restores do not depend on upstream
// retention. Upstream being unreachable degrades to local history.
func (s *Service) List(ctx context.Context, assistantID uuid.UUID) ([]store.AssistantVersion, error) {
	local, err := s.versions.List(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	known := map[int]bool{}
	for _, v := range local {
		known[v.Version] = true
	}

	upstream, err := s.engine.ListVersions(ctx, assistantID.String())
	if err != nil {
		s.log.Warn("upstream version history unavailable", "assistant", assistantID, "error", err)
		return local, nil
	}
	for i := range upstream {
		u := &upstream[i]
		if known[u.Version] {
			continue
		}
		if err := s.Record(ctx, u, "", ""); err != nil {
			s.log.Warn("save observed version failed", "assistant", assistantID,
				"version", u.Version, "error", err)
			continue
		}
		known[u.Version] = true
		local = append(local, store.AssistantVersion{
			AssistantID:        assistantID,
			Version:            u.Version,
			Name:               u.Name,
			Description:        u.Description,
			Config:             u.Config,
			Metadata:           u.Metadata,
			Tags:               u.Tags(),
			LanggraphCreatedAt: u.CreatedAt,
		})
	}

	sort.Slice(local, func(i, j int) bool { return local[i].Version > local[j].Version })
	return local, nil
}

// Get returns one local snapshot.
func (s *Service) Get(ctx context.Context, assistantID uuid.UUID, version int) (*store.AssistantVersion, error) {
	v, err := s.versions.Get(ctx, assistantID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "assistant %s has no version %d", assistantID, version)
	}
	return v, err
}

// Restore patches the assistant upstream back to a snapshot. The
// engine assigns a fresh version, which is snapshotted in turn with a
// restore commit message, then the mirror is refreshed.
func (s *Service) Restore(ctx context.Context, actor auth.Actor, assistantID uuid.UUID, version int) (*langgraph.Assistant, error) {
	snap, err := s.Get(ctx, assistantID, version)
	if err != nil {
		return nil, err
	}

	metadata, err := langgraph.WithTags(snap.Metadata, snap.Tags)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "rebuild metadata for version %d", version)
	}
	updated, err := s.engine.UpdateAssistant(ctx, assistantID.String(), langgraph.UpdatePayload{
		Name:        &snap.Name,
		Description: &snap.Description,
		Config:      snap.Config,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Restored from version %d", version)
	if err := s.Record(ctx, updated, msg, actor.UserID); err != nil {
		s.log.Warn("snapshot restored version failed", "assistant", assistantID,
			"version", updated.Version, "error", err)
	}
	if err := s.sync.SyncAssistant(ctx, assistantID); err != nil {
		s.log.Warn("post-restore sync failed", "assistant", assistantID, "error", err)
	}
	s.log.Info("assistant restored", "assistant", assistantID,
		"from_version", version, "new_version", updated.Version, "by", actor.UserID)
	return updated, nil
}
