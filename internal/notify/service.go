// Package notify delivers actionable graph events: durable storage plus
// best-effort real-time fan-out over websockets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/storage"
	"github.com/continuumhq/continuum/internal/telemetry"
)

// Service persists notifications and pushes them to connected clients. The
// durable write always happens; fan-out is best effort.
type Service struct {
	db     *storage.DB
	hub    *Hub
	logger *slog.Logger
}

// NewService creates the notification service.
func NewService(db *storage.DB, hub *Hub, logger *slog.Logger) *Service {
	return &Service{db: db, hub: hub, logger: logger}
}

// Publish stores the notification and attempts delivery to every live
// connection of the user. When a LISTEN/NOTIFY connection is configured the
// fan-out goes through Postgres so every instance delivers to its own
// websocket clients, including this one; otherwise delivery is in-process.
func (s *Service) Publish(ctx context.Context, n model.Notification) error {
	stored, err := s.db.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	telemetry.NotificationsPublished().Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", string(stored.Type))))

	if s.db.HasNotifyConn() {
		payload, merr := json.Marshal(stored)
		if merr != nil {
			s.logger.Warn("notify: payload marshal failed", "error", merr)
		} else if nerr := s.db.Notify(ctx, storage.ChannelNotifications, string(payload)); nerr != nil {
			s.logger.Warn("notify: pg_notify failed, falling back to local delivery",
				"user", stored.UserID, "error", nerr)
		} else {
			return nil
		}
	}

	if s.hub != nil {
		s.hub.Send(stored.UserID, stored)
	}
	return nil
}

// List returns the user's notifications, unread first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error) {
	return s.db.ListNotifications(ctx, userID, limit, offset)
}

// MarkRead acknowledges one notification.
func (s *Service) MarkRead(ctx context.Context, userID string, id uuid.UUID) error {
	return s.db.MarkNotificationRead(ctx, userID, id)
}

// MarkAllRead acknowledges everything unread. Returns the number marked.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.db.MarkAllNotificationsRead(ctx, userID)
}

// Unread returns up to limit unread notifications oldest-first, for connect
// replay.
func (s *Service) Unread(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return s.db.UnreadNotifications(ctx, userID, limit)
}
