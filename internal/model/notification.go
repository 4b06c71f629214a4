package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType names an actionable graph event.
type NotificationType string

const (
	NotifyContradictionDetected  NotificationType = "contradiction_detected"
	NotifyAssumptionInvalidated  NotificationType = "assumption_invalidated"
	NotifyStaleDecision          NotificationType = "stale_decision"
	NotifyDormantAlternative     NotificationType = "dormant_alternative"
	NotifyCommitLinked           NotificationType = "commit_linked"
	NotifySupersededDecision     NotificationType = "superseded_decision"
)

// Notification is a durable, per-user event record.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
