package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tunefile/apiserver/types"
)

// NotificationRepository handles persistence for notifications.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n types.Notification) (types.Notification, error) {
	n.CreatedAt = time.Now()
	const query = `
		INSERT INTO notifications (recipient_id, kind, message, file_id, read, created_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), FALSE, $5)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		n.RecipientID,
		n.Kind,
		n.Message,
		n.FileID,
		n.CreatedAt,
	).Scan(&n.ID); err != nil {
		return types.Notification{}, err
	}
	return n, nil
}

// ListByRecipient returns a user's notifications, newest first.
// When unreadOnly is set, read notifications are skipped.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID int, unreadOnly bool) ([]types.Notification, error) {
	const query = `
		SELECT id, recipient_id, kind, message, COALESCE(file_id, 0), read, created_at
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, recipientID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []types.Notification
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.Kind,
			&n.Message,
			&n.FileID,
			&n.Read,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags a notification as read. The recipient check prevents a
// user from touching someone else's notifications.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID int) error {
	result, err := r.db.ExecContext(
		ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`,
		id, recipientID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Delete removes a single notification owned by the recipient.
func (r *NotificationRepository) Delete(ctx context.Context, id, recipientID int) error {
	result, err := r.db.ExecContext(
		ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`,
		id, recipientID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Clear removes all notifications owned by the recipient.
func (r *NotificationRepository) Clear(ctx context.Context, recipientID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	return err
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
