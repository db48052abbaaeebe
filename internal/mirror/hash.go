// Package mirror keeps the local projection of the upstream engine in
// step: content-hashed upserts, incremental and full sweeps, schema
// sync, and stale-row cleanup.
package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/store"
)

// field separator for hash input; keeps "ab"+"c" distinct from "a"+"bc".
const hashSep = "\x1f"

func sumHex(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(hashSep))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AssistantHash fingerprints the sync-relevant fields of an upstream
// assistant. Two records hash equal iff nothing the mirror stores has
// changed.
func AssistantHash(a *langgraph.Assistant) string {
	return sumHex(
		a.Name,
		string(a.Config),
		string(a.Metadata),
		a.Description,
		string(a.Context),
		strconv.Itoa(a.Version),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
}

// SchemaHash fingerprints an assistant's schema bundle.
func SchemaHash(s *langgraph.Schemas) string {
	return sumHex(string(s.InputSchema), string(s.ConfigSchema), string(s.StateSchema))
}

// GraphHash fingerprints the graph projection derived from its
// assistants.
func GraphHash(g *store.GraphMirror) string {
	return sumHex(g.GraphID, g.Name, g.Description, strconv.FormatBool(g.SchemaAccessible))
}
