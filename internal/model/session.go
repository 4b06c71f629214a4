package model

import (
	"time"

	"github.com/google/uuid"
)

// CaptureSession is an interactive capture session streaming live messages.
type CaptureSession struct {
	ID          uuid.UUID  `json:"id"`
	UserID      string     `json:"user_id"`
	Project     string     `json:"project,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CaptureMessage is one inbound message within a capture session.
// Seq is assigned at enqueue time and preserves arrival order through the batcher.
type CaptureMessage struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	UserID    string    `json:"user_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessedFile is a ledger entry for an ingested log file.
// Re-ingesting a file with the same content hash is a no-op.
type ProcessedFile struct {
	Path        string    `json:"path"`
	UserID      string    `json:"user_id"`
	ContentHash string    `json:"content_hash"`
	ProcessedAt time.Time `json:"processed_at"`
	Decisions   int       `json:"decisions"`
}
