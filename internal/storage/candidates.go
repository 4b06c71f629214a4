package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

// CreateCandidate inserts a rejected alternative. The (decision_id, text)
// uniqueness makes retried writes idempotent.
func (db *DB) CreateCandidate(ctx context.Context, c model.CandidateDecision) (model.CandidateDecision, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CandidateStatusRejected
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO candidate_decisions (id, decision_id, user_id, text, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (decision_id, text) DO NOTHING`,
		c.ID, c.DecisionID, c.UserID, c.Text, c.Status, c.CreatedAt)
	if err != nil {
		return model.CandidateDecision{}, fmt.Errorf("storage: create candidate: %w", err)
	}
	return c, nil
}

// CandidatesByDecision returns the rejected alternatives of a decision.
func (db *DB) CandidatesByDecision(ctx context.Context, decisionID uuid.UUID) ([]model.CandidateDecision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, decision_id, user_id, text, status, created_at
		 FROM candidate_decisions WHERE decision_id = $1 ORDER BY created_at ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: candidates by decision: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateDecision
	for rows.Next() {
		var c model.CandidateDecision
		if err := rows.Scan(&c.ID, &c.DecisionID, &c.UserID, &c.Text, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidatesRejectedBefore returns the user's candidates rejected at or before
// the cutoff, with the confidence of the rejecting decision. Input to the
// dormant-alternative detector.
func (db *DB) CandidatesRejectedBefore(ctx context.Context, userID string, cutoff time.Time) ([]model.CandidateDecision, map[uuid.UUID]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.decision_id, c.user_id, c.text, c.status, c.created_at, d.confidence
		 FROM candidate_decisions c
		 JOIN decisions d ON d.id = c.decision_id
		 WHERE c.user_id = $1 AND c.created_at <= $2
		 ORDER BY c.created_at ASC`, userID, cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: candidates rejected before: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateDecision
	confidences := make(map[uuid.UUID]float64)
	for rows.Next() {
		var c model.CandidateDecision
		var conf float64
		if err := rows.Scan(&c.ID, &c.DecisionID, &c.UserID, &c.Text, &c.Status, &c.CreatedAt, &conf); err != nil {
			return nil, nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, c)
		confidences[c.ID] = conf
	}
	return out, confidences, rows.Err()
}

// SearchCandidates finds candidates whose text contains the query (case-insensitive).
func (db *DB) SearchCandidates(ctx context.Context, userID, query string, limit int) ([]model.CandidateDecision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, decision_id, user_id, text, status, created_at
		 FROM candidate_decisions
		 WHERE user_id = $1 AND text ILIKE '%' || $2 || '%'
		 ORDER BY created_at DESC LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CandidateDecision
	for rows.Next() {
		var c model.CandidateDecision
		if err := rows.Scan(&c.ID, &c.DecisionID, &c.UserID, &c.Text, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
