package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

// CreateCaptureSession starts an interactive capture session.
func (db *DB) CreateCaptureSession(ctx context.Context, s model.CaptureSession) (model.CaptureSession, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO capture_sessions (id, user_id, project, started_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		s.ID, s.UserID, s.Project, s.StartedAt)
	if err != nil {
		return model.CaptureSession{}, fmt.Errorf("storage: create capture session: %w", err)
	}
	return s, nil
}

// CompleteCaptureSession stamps the session completed.
func (db *DB) CompleteCaptureSession(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE capture_sessions SET completed_at = now()
		 WHERE id = $1 AND user_id = $2 AND completed_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: complete capture session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertCaptureMessages writes a batch of messages in one transaction so a
// batch either lands whole or not at all. Message seq values preserve arrival
// order within the session.
func (db *DB) InsertCaptureMessages(ctx context.Context, msgs []model.CaptureMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin message batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range msgs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO capture_messages (id, session_id, user_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, seq) DO NOTHING`,
			m.ID, m.SessionID, m.UserID, m.Seq, string(m.Role), m.Content, m.CreatedAt); err != nil {
			return 0, fmt.Errorf("storage: insert capture message: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit message batch: %w", err)
	}
	return len(msgs), nil
}

// SessionMessages returns the session's messages in seq order.
func (db *DB) SessionMessages(ctx context.Context, userID string, sessionID uuid.UUID) ([]model.CaptureMessage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, user_id, seq, role, content, created_at
		 FROM capture_messages WHERE session_id = $1 AND user_id = $2
		 ORDER BY seq ASC`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: session messages: %w", err)
	}
	defer rows.Close()

	var out []model.CaptureMessage
	for rows.Next() {
		var m model.CaptureMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan capture message: %w", err)
		}
		m.Role = model.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── Processed-files ledger ─────────────────────────────────────────────────────

// HashContent returns the ledger hash of a log file's content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// FileProcessed reports whether the file at path with the given content hash
// was already ingested for the user.
func (db *DB) FileProcessed(ctx context.Context, userID, path, contentHash string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_files
		 WHERE user_id = $1 AND path = $2 AND content_hash = $3)`,
		userID, path, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: file processed: %w", err)
	}
	return exists, nil
}

// RecordProcessedFile upserts a ledger entry after successful ingestion.
func (db *DB) RecordProcessedFile(ctx context.Context, f model.ProcessedFile) error {
	if f.ProcessedAt.IsZero() {
		f.ProcessedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO processed_files (path, user_id, content_hash, processed_at, decisions)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, path) DO UPDATE
		 SET content_hash = EXCLUDED.content_hash, processed_at = EXCLUDED.processed_at,
		     decisions = EXCLUDED.decisions`,
		f.Path, f.UserID, f.ContentHash, f.ProcessedAt, f.Decisions)
	if err != nil {
		return fmt.Errorf("storage: record processed file: %w", err)
	}
	return nil
}
