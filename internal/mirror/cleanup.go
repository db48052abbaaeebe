package mirror

import (
	"context"
	"time"
)

// CleanupResult counts rows removed by one stale-mirror sweep.
type CleanupResult struct {
	Assistants int `json:"assistants_deleted"`
	Graphs     int `json:"graphs_deleted"`
	Schemas    int `json:"schemas_deleted"`
}

// Cleanup removes mirror rows not seen within the grace window. Rows
// updated after the cutoff survive regardless of last_seen_at, so a
// briefly unreachable engine cannot wipe fresh edits.
func (s *Syncer) Cleanup(ctx context.Context, grace time.Duration) (*CleanupResult, error) {
	cutoff := time.Now().UTC().Add(-grace)
	res := &CleanupResult{}

	var err error
	if res.Assistants, err = s.mirror.DeleteStaleAssistants(ctx, cutoff); err != nil {
		return nil, err
	}
	if res.Graphs, err = s.mirror.DeleteStaleGraphs(ctx, cutoff); err != nil {
		return nil, err
	}
	if res.Schemas, err = s.mirror.DeleteOrphanSchemas(ctx); err != nil {
		return nil, err
	}
	s.log.Info("mirror cleanup done", "cutoff", cutoff,
		"assistants", res.Assistants, "graphs", res.Graphs, "schemas", res.Schemas)
	return res, nil
}
