package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/store"
)

type PGNotificationStore struct {
	db *sql.DB
}

func NewPGNotificationStore(db *sql.DB) *PGNotificationStore { return &PGNotificationStore{db: db} }

const notificationCols = `id, recipient_id, type, resource_id, permission_level, sender_id,
	sender_display_name, status, resource_name, resource_description,
	created_at, updated_at, responded_at, expires_at`

func scanNotification(row interface{ Scan(...any) error }) (*store.Notification, error) {
	var n store.Notification
	var respondedAt sql.NullTime
	var name, desc *string
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.ResourceID, &n.PermissionLevel,
		&n.SenderID, &n.SenderDisplayName, &n.Status, &name, &desc,
		&n.CreatedAt, &n.UpdatedAt, &respondedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	n.ResourceName = derefStr(name)
	n.ResourceDescription = derefStr(desc)
	n.RespondedAt = scanNullTime(respondedAt)
	return &n, nil
}

func (s *PGNotificationStore) Create(ctx context.Context, n *store.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = store.GenNewID()
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = store.NotificationPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		n.ID, n.RecipientID, n.Type, n.ResourceID, n.PermissionLevel,
		n.SenderID, n.SenderDisplayName, n.Status,
		nilStr(n.ResourceName), nilStr(n.ResourceDescription),
		n.CreatedAt, n.UpdatedAt, nilTime(n.RespondedAt), n.ExpiresAt)
	return err
}

func (s *PGNotificationStore) Get(ctx context.Context, id uuid.UUID) (*store.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "notification %s not found", id)
	}
	return n, err
}

func (s *PGNotificationStore) FindPendingEquivalent(ctx context.Context, recipientID string, t store.NotificationType, resourceID, senderID string) (*store.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE recipient_id = $1 AND type = $2 AND resource_id = $3 AND sender_id = $4 AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`,
		recipientID, t, resourceID, senderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *PGNotificationStore) List(ctx context.Context, recipientID string, opts store.NotificationListOpts) (*store.NotificationListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	result := &store.NotificationListResult{Notifications: []store.Notification{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'pending' AND expires_at > now())
		 FROM notifications WHERE recipient_id = $1`, recipientID,
	).Scan(&result.TotalCount, &result.PendingCount)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + notificationCols + ` FROM notifications WHERE recipient_id = $1`
	args := []any{recipientID}
	if opts.Status != nil {
		query += ` AND status = $2`
		args = append(args, *opts.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + itoa(opts.Limit) + ` OFFSET ` + itoa(opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result.Notifications = append(result.Notifications, *n)
	}
	return result, rows.Err()
}

func (s *PGNotificationStore) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications
		 WHERE recipient_id = $1 AND status = 'pending' AND expires_at > now()`,
		recipientID).Scan(&n)
	return n, err
}

func (s *PGNotificationStore) UpdateStatus(ctx context.Context, id uuid.UUID, status store.NotificationStatus, respondedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = $1, responded_at = $2, updated_at = $2 WHERE id = $3`,
		status, respondedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "notification %s not found", id)
	}
	return nil
}

// AcceptAndGrant transitions pending→accepted and upserts the authorized
// grant in one transaction, so an accepted notification without its grant
// is never observable.
func (s *PGNotificationStore) AcceptAndGrant(ctx context.Context, id uuid.UUID, rt store.ResourceType, grant *store.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE notifications SET status = 'accepted', responded_at = $1, updated_at = $1
		 WHERE id = $2 AND status = 'pending'`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotPending, "notification %s is not pending", id)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+permTable(rt)+` (resource_id, user_id, level, granted_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (resource_id, user_id) DO UPDATE SET
		   level = EXCLUDED.level, granted_by = EXCLUDED.granted_by, updated_at = EXCLUDED.updated_at`,
		grant.ResourceID, grant.UserID, grant.Level, grant.GrantedBy, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PGNotificationStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'expired', updated_at = $1
		 WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
