package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

// CreateNotification writes a durable notification record.
func (db *DB) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: marshal notification payload: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, payload, n.CreatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: create notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the user's notifications, unread first, newest first
// within each group.
func (db *DB) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, type, title, body, payload, read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY read ASC, created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// UnreadNotifications returns up to limit unread notifications, oldest first.
// Used for websocket connect replay.
func (db *DB) UnreadNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, type, title, body, payload, read, created_at
		 FROM notifications WHERE user_id = $1 AND read = false
		 ORDER BY created_at ASC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: unread notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkNotificationRead marks one notification read. Owner-scoped.
func (db *DB) MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification for the user.
// Returns the number marked.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return 0, fmt.Errorf("storage: mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectNotifications(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.Notification, error) {
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Body, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal notification payload: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
