package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationType is the kind of share a notification carries.
type NotificationType string

const (
	NotifyGraphShare      NotificationType = "graph_share"
	NotifyAssistantShare  NotificationType = "assistant_share"
	NotifyCollectionShare NotificationType = "collection_share"
)

// ResourceType maps the notification type to the permission resource kind.
func (t NotificationType) ResourceType() ResourceType {
	switch t {
	case NotifyGraphShare:
		return ResourceGraph
	case NotifyAssistantShare:
		return ResourceAssistant
	default:
		return ResourceCollection
	}
}

// NotificationStatus is the lifecycle state of a share invitation.
type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationAccepted NotificationStatus = "accepted"
	NotificationRejected NotificationStatus = "rejected"
	NotificationExpired  NotificationStatus = "expired"
)

// Notification is a share invitation from sender to recipient.
type Notification struct {
	ID                  uuid.UUID          `json:"id"`
	RecipientID         string             `json:"recipient_id"`
	Type                NotificationType   `json:"type"`
	ResourceID          string             `json:"resource_id"`
	PermissionLevel     Level              `json:"permission_level"`
	SenderID            string             `json:"sender_id"`
	SenderDisplayName   string             `json:"sender_display_name"`
	Status              NotificationStatus `json:"status"`
	ResourceName        string             `json:"resource_name,omitempty"`
	ResourceDescription string             `json:"resource_description,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	RespondedAt         *time.Time         `json:"responded_at,omitempty"`
	ExpiresAt           time.Time          `json:"expires_at"`
}

// Expired reports whether the notification is past its expiry. Pending rows
// past expiry must be treated as expired on read even before the sweeper
// has stamped them.
func (n *Notification) Expired(now time.Time) bool {
	return n.Status == NotificationExpired ||
		(n.Status == NotificationPending && n.ExpiresAt.Before(now))
}

// NotificationListOpts filters a recipient's notification listing.
type NotificationListOpts struct {
	Status *NotificationStatus
	Limit  int
	Offset int
}

// NotificationListResult is one page of a recipient's notifications.
type NotificationListResult struct {
	Notifications []Notification `json:"notifications"`
	TotalCount    int            `json:"total_count"`
	PendingCount  int            `json:"pending_count"`
}

// NotificationStore persists share invitations.
type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	// FindPendingEquivalent returns a pending row with the same recipient,
	// resource and sender, or nil. Used for idempotent create.
	FindPendingEquivalent(ctx context.Context, recipientID string, t NotificationType, resourceID, senderID string) (*Notification, error)
	// List returns the recipient's notifications newest-first.
	List(ctx context.Context, recipientID string, opts NotificationListOpts) (*NotificationListResult, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	// UpdateStatus transitions the row and stamps responded_at for terminal
	// states. The caller is responsible for state-machine checks.
	UpdateStatus(ctx context.Context, id uuid.UUID, status NotificationStatus, respondedAt time.Time) error
	// AcceptAndGrant atomically marks the notification accepted and upserts
	// the permission it authorizes, in a single transaction. Observers never
	// see an accepted notification without its grant.
	AcceptAndGrant(ctx context.Context, id uuid.UUID, rt ResourceType, grant *Permission) error
	// ExpireDue transitions pending rows whose expires_at < now to expired.
	// Returns the number of rows swept.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
