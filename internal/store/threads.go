package store

import (
	"context"
	"time"
)

// Thread mirrors a conversation thread for background naming.
// Thread ids are upstream string ids.
type Thread struct {
	ThreadID      string     `json:"thread_id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	UserRenamed   bool       `json:"user_renamed"`
	NeedsNaming   bool       `json:"needs_naming"`
	LastNamingAt  *time.Time `json:"last_naming_at,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
}

// ThreadStore persists thread naming state.
type ThreadStore interface {
	Upsert(ctx context.Context, t *Thread) error
	Get(ctx context.Context, threadID string) (*Thread, error)
	// ListNeedingNaming returns at most limit threads with needs_naming true,
	// user_renamed false, and last_naming_at null or older than cutoff.
	ListNeedingNaming(ctx context.Context, cutoff time.Time, limit int) ([]Thread, error)
	// ApplyNaming atomically writes name/summary, clears needs_naming, stamps
	// last_naming_at and bumps threads_version in one transaction. Threads
	// with user_renamed true are never written; ok is false in that case.
	ApplyNaming(ctx context.Context, threadID, name, summary string, at time.Time) (ok bool, err error)
	// TouchNamingAttempt stamps last_naming_at only, throttling retries after
	// a naming failure while keeping needs_naming set.
	TouchNamingAttempt(ctx context.Context, threadID string, at time.Time) error
	// SetUserRenamed records a manual rename; the sweeper never touches the
	// thread again.
	SetUserRenamed(ctx context.Context, threadID, name string) error
	// MarkNeedsNaming flags the thread for the sweeper and updates
	// last_message_at.
	MarkNeedsNaming(ctx context.Context, threadID, userID string, messageAt time.Time) error
}
