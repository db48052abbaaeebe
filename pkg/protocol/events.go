// Package protocol defines the wire names shared between the server
// and WebSocket clients.
package protocol

// WebSocket event names pushed from server to client.
const (
	EventCacheInvalidate = "cache.invalidate"
	EventHealth          = "health"
	EventShutdown        = "shutdown"
)

// Cache invalidation kinds, matching the cache-state counters.
const (
	CacheKindGraphs     = "graphs"
	CacheKindAssistants = "assistants"
	CacheKindSchemas    = "schemas"
	CacheKindThreads    = "threads"
)

// CacheInvalidatePayload tells clients one cached domain went stale.
// Version is the new counter value; clients refetch when it exceeds
// the one they hold.
type CacheInvalidatePayload struct {
	Kind    string `json:"kind"`
	Version int64  `json:"version"`
}
