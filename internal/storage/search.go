package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/model"
)

// SearchDecisionsFTS runs full-text search over the generated search vector
// and returns scored hits, best first.
func (db *DB) SearchDecisionsFTS(ctx context.Context, userID, query, project string, limit int) ([]model.SearchResult, error) {
	q := `SELECT ` + prefixedDecisionColumns("d") + `,
	       ts_rank(d.search_vector, plainto_tsquery('english', $2)) AS rank
	      FROM decisions d
	      WHERE (d.user_id = $1 OR d.user_id IS NULL)
	        AND d.search_vector @@ plainto_tsquery('english', $2)`
	args := []any{userID, query}
	if project != "" {
		q += ` AND d.project = $3`
		args = append(args, project)
	}
	q += fmt.Sprintf(` ORDER BY rank DESC LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: fts search: %w", err)
	}
	defer rows.Close()

	var out []model.SearchResult
	for rows.Next() {
		var d model.Decision
		var scope, source string
		var prov, grounding []byte
		var rank float64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Project, &d.Trigger, &d.Context,
			&d.AgentDecision, &d.AgentRationale, &d.Options, &d.Confidence,
			&scope, &d.Assumptions, &source, &prov, &grounding,
			&d.HumanDecision, &d.HumanRationale, &d.CreatedAt, &d.EditedAt, &d.EditCount,
			&rank); err != nil {
			return nil, fmt.Errorf("storage: scan fts hit: %w", err)
		}
		d.Scope = model.Scope(scope)
		d.Source = model.Source(source)
		if err := decodeDecisionDocs(&d, prov, grounding); err != nil {
			return nil, err
		}
		out = append(out, model.SearchResult{DecisionID: d.ID, Score: rank, Decision: &d})
	}
	return out, rows.Err()
}

// SearchDecisionsContains is the substring fallback used when full-text search
// returns nothing, so short or partial-token queries still match.
func (db *DB) SearchDecisionsContains(ctx context.Context, userID, query, project string, limit int) ([]model.SearchResult, error) {
	q := `SELECT ` + decisionColumns + ` FROM decisions
	      WHERE (user_id = $1 OR user_id IS NULL)
	        AND (agent_decision ILIKE '%' || $2 || '%'
	          OR trigger ILIKE '%' || $2 || '%'
	          OR agent_rationale ILIKE '%' || $2 || '%'
	          OR context ILIKE '%' || $2 || '%')`
	args := []any{userID, query}
	if project != "" {
		q += ` AND project = $3`
		args = append(args, project)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: contains search: %w", err)
	}
	defer rows.Close()

	ds, err := collectDecisions(rows)
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, 0, len(ds))
	for i := range ds {
		out = append(out, model.SearchResult{DecisionID: ds[i].ID, Score: 0, Decision: &ds[i]})
	}
	return out, nil
}

// FindSimilarDecisionsByEmbedding returns decisions ordered by cosine
// similarity to the query vector, with scores in [0,1]. Rows without an
// embedding are excluded.
func (db *DB) FindSimilarDecisionsByEmbedding(ctx context.Context, userID string, emb pgvector.Vector, project string, minScore float64, limit int) ([]model.SearchResult, error) {
	q := `SELECT ` + prefixedDecisionColumns("d") + `,
	       1 - (d.embedding <=> $2) AS score
	      FROM decisions d
	      WHERE (d.user_id = $1 OR d.user_id IS NULL) AND d.embedding IS NOT NULL`
	args := []any{userID, emb}
	if project != "" {
		q += fmt.Sprintf(` AND d.project = $%d`, len(args)+1)
		args = append(args, project)
	}
	q += fmt.Sprintf(` AND 1 - (d.embedding <=> $2) >= $%d`, len(args)+1)
	args = append(args, minScore)
	q += fmt.Sprintf(` ORDER BY d.embedding <=> $2 LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: vector search: %w", err)
	}
	defer rows.Close()

	var out []model.SearchResult
	for rows.Next() {
		var d model.Decision
		var scope, source string
		var prov, grounding []byte
		var score float64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Project, &d.Trigger, &d.Context,
			&d.AgentDecision, &d.AgentRationale, &d.Options, &d.Confidence,
			&scope, &d.Assumptions, &source, &prov, &grounding,
			&d.HumanDecision, &d.HumanRationale, &d.CreatedAt, &d.EditedAt, &d.EditCount,
			&score); err != nil {
			return nil, fmt.Errorf("storage: scan vector hit: %w", err)
		}
		d.Scope = model.Scope(scope)
		d.Source = model.Source(source)
		if err := decodeDecisionDocs(&d, prov, grounding); err != nil {
			return nil, err
		}
		out = append(out, model.SearchResult{DecisionID: d.ID, Score: score, Decision: &d})
	}
	return out, rows.Err()
}
