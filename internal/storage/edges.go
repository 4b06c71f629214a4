package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

// CreateInvolvesEdge links a decision to an entity. Both endpoints must exist;
// the foreign keys reject dangling edges.
func (db *DB) CreateInvolvesEdge(ctx context.Context, e model.InvolvesEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO involves (decision_id, entity_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (decision_id, entity_id) DO UPDATE SET role = EXCLUDED.role`,
		e.DecisionID, e.EntityID, e.UserID, e.Role, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create involves edge: %w", err)
	}
	return nil
}

// CreateDecisionEdge writes an evolution edge with merge-on-key semantics.
// Re-writing the same (kind, from, to) refreshes confidence and reasoning.
func (db *DB) CreateDecisionEdge(ctx context.Context, e model.DecisionEdge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO decision_edges (id, kind, from_id, to_id, user_id, confidence, weight, reasoning, assumption, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (kind, from_id, to_id) DO UPDATE
		 SET confidence = EXCLUDED.confidence, weight = EXCLUDED.weight,
		     reasoning = EXCLUDED.reasoning, assumption = EXCLUDED.assumption`,
		e.ID, string(e.Kind), e.FromID, e.ToID, e.UserID, e.Confidence, e.Weight,
		e.Reasoning, e.Assumption, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create decision edge: %w", err)
	}
	return nil
}

// DecisionEdgeExists reports whether an edge of the given kind exists in either
// direction between two decisions. CONTRADICTS and SIMILAR_TO are stored once
// and treated as undirected.
func (db *DB) DecisionEdgeExists(ctx context.Context, kind model.EdgeKind, a, b uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM decision_edges
		 WHERE kind = $1 AND ((from_id = $2 AND to_id = $3) OR (from_id = $3 AND to_id = $2)))`,
		string(kind), a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: decision edge exists: %w", err)
	}
	return exists, nil
}

// EdgesForDecision returns all evolution edges touching a decision.
func (db *DB) EdgesForDecision(ctx context.Context, userID string, decisionID uuid.UUID) ([]model.DecisionEdge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, kind, from_id, to_id, user_id, confidence, weight, reasoning, assumption, created_at
		 FROM decision_edges
		 WHERE user_id = $1 AND (from_id = $2 OR to_id = $2)
		 ORDER BY created_at ASC`, userID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: edges for decision: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// OpenContradictions returns the user's CONTRADICTS edges, newest first.
func (db *DB) OpenContradictions(ctx context.Context, userID string, limit int) ([]model.DecisionEdge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, kind, from_id, to_id, user_id, confidence, weight, reasoning, assumption, created_at
		 FROM decision_edges
		 WHERE user_id = $1 AND kind = 'CONTRADICTS'
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: open contradictions: %w", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

// CreateAffectsEdge links a decision to a code file, merging on key.
func (db *DB) CreateAffectsEdge(ctx context.Context, e model.AffectsEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO affects (decision_id, file_path, user_id, source, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (decision_id, file_path) DO UPDATE
		 SET source = EXCLUDED.source, confidence = GREATEST(affects.confidence, EXCLUDED.confidence)`,
		e.DecisionID, e.FilePath, e.UserID, string(e.Source), e.Confidence, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create affects edge: %w", err)
	}
	return nil
}

// AffectedFiles returns the file paths a decision AFFECTS.
func (db *DB) AffectedFiles(ctx context.Context, decisionID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT file_path FROM affects WHERE decision_id = $1 ORDER BY file_path`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("storage: affected files: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("storage: scan affected file: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecisionsForFiles returns decisions whose AFFECTS set intersects the given
// file list, newest first. Used by the PR-context endpoint.
func (db *DB) DecisionsForFiles(ctx context.Context, userID string, files []string, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT `+prefixedDecisionColumns("d")+` FROM decisions d
		 JOIN affects a ON a.decision_id = d.id
		 WHERE (d.user_id = $1 OR d.user_id IS NULL) AND a.file_path = ANY($2)
		 ORDER BY d.created_at DESC LIMIT $3`, userID, files, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions for files: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func collectEdges(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.DecisionEdge, error) {
	var out []model.DecisionEdge
	for rows.Next() {
		var e model.DecisionEdge
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.FromID, &e.ToID, &e.UserID,
			&e.Confidence, &e.Weight, &e.Reasoning, &e.Assumption, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		e.Kind = model.EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
