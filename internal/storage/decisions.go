package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/model"
)

const decisionColumns = `id, user_id, project, trigger, context, agent_decision, agent_rationale,
	options, confidence, scope, assumptions, source, provenance, grounding,
	human_decision, human_rationale, created_at, edited_at, edit_count`

// CreateDecision inserts a decision with merge-on-key semantics so retried
// writes of the same id are tolerated.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Scope == "" {
		d.Scope = model.ScopeUnknown
	}
	if d.Source == "" {
		d.Source = model.SourceAPI
	}
	d.ClampConfidence()

	prov, err := json.Marshal(d.Provenance)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: marshal provenance: %w", err)
	}
	var grounding []byte
	if d.Grounding != nil {
		grounding, err = json.Marshal(d.Grounding)
		if err != nil {
			return model.Decision{}, fmt.Errorf("storage: marshal grounding: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO decisions (id, user_id, project, trigger, context, agent_decision,
		 agent_rationale, options, confidence, scope, assumptions, source, provenance,
		 grounding, human_decision, human_rationale, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, d.UserID, d.Project, d.Trigger, d.Context, d.AgentDecision,
		d.AgentRationale, d.Options, d.Confidence, string(d.Scope), d.Assumptions,
		string(d.Source), prov, grounding, d.HumanDecision, d.HumanRationale,
		d.Embedding, d.CreatedAt,
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

// GetDecision retrieves a decision by id within the user's tenancy scope.
func (db *DB) GetDecision(ctx context.Context, userID string, id uuid.UUID) (model.Decision, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE id = $1 AND (user_id = $2 OR user_id IS NULL)`, id, userID)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// UpdateDecision applies a controlled mutation: content fields only, with the
// edit counter incremented and edited_at stamped. Owner-scoped.
func (db *DB) UpdateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	now := time.Now().UTC()
	d.ClampConfidence()
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET trigger = $1, context = $2, agent_decision = $3,
		 agent_rationale = $4, options = $5, confidence = $6, scope = $7,
		 assumptions = $8, human_decision = $9, human_rationale = $10,
		 embedding = COALESCE($11, embedding),
		 edited_at = $12, edit_count = edit_count + 1
		 WHERE id = $13 AND user_id = $14`,
		d.Trigger, d.Context, d.AgentDecision, d.AgentRationale, d.Options,
		d.Confidence, string(d.Scope), d.Assumptions, d.HumanDecision,
		d.HumanRationale, d.Embedding, now, d.ID, d.UserID,
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Decision{}, ErrNotFound
	}
	d.EditedAt = &now
	d.EditCount++
	return d, nil
}

// DeleteDecision removes an owner's decision. Owned INVOLVES edges and orphaned
// candidates cascade through foreign keys.
func (db *DB) DeleteDecision(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM decisions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDecisions returns the user's decisions ordered by creation time descending.
func (db *DB) ListDecisions(ctx context.Context, userID, project string, limit, offset int) ([]model.Decision, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	where := ` WHERE (user_id = $1 OR user_id IS NULL)`
	args := []any{userID}
	if project != "" {
		where += ` AND project = $2`
		args = append(args, project)
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM decisions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count decisions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM decisions%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		decisionColumns, where, limit, offset)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	decisions, err := collectDecisions(rows)
	if err != nil {
		return nil, 0, err
	}
	return decisions, total, nil
}

// RecentDecisionsSharingEntities returns the user's most recent decisions that
// share at least one entity with the given decision, excluding it. Used by the
// evolution analyzer to pick comparison candidates.
func (db *DB) RecentDecisionsSharingEntities(ctx context.Context, userID string, decisionID uuid.UUID, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+prefixedDecisionColumns("d")+` FROM decisions d
		 WHERE d.user_id = $1 AND d.id != $2
		   AND EXISTS (
		     SELECT 1 FROM involves i1
		     JOIN involves i2 ON i1.entity_id = i2.entity_id
		     WHERE i1.decision_id = d.id AND i2.decision_id = $2
		   )
		 ORDER BY d.created_at DESC LIMIT $3`,
		userID, decisionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent sharing entities: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// DecisionsAffectingFiles returns the user's decisions created in [since, until]
// with an AFFECTS edge to any of the given files, together with their affected file sets.
func (db *DB) DecisionsAffectingFiles(ctx context.Context, userID string, files []string, since, until time.Time) (map[uuid.UUID][]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT a.decision_id, a.file_path FROM affects a
		 JOIN decisions d ON d.id = a.decision_id
		 WHERE a.user_id = $1 AND d.created_at >= $2 AND d.created_at <= $3
		   AND a.decision_id IN (
		     SELECT decision_id FROM affects
		     WHERE user_id = $1 AND file_path = ANY($4)
		   )`,
		userID, since, until, files)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions affecting files: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]string)
	for rows.Next() {
		var id uuid.UUID
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("storage: scan affects: %w", err)
		}
		result[id] = append(result[id], path)
	}
	return result, rows.Err()
}

// StaleDecisions returns decisions older than their per-scope threshold.
// Thresholds map scope name to maximum age in days.
func (db *DB) StaleDecisions(ctx context.Context, userID string, thresholds map[string]int, limit int) ([]model.Decision, error) {
	now := time.Now().UTC()
	var all []model.Decision
	for scope, days := range thresholds {
		cutoff := now.AddDate(0, 0, -days)
		rows, err := db.pool.Query(ctx,
			`SELECT `+decisionColumns+` FROM decisions
			 WHERE user_id = $1 AND scope = $2 AND created_at < $3
			   AND id NOT IN (SELECT to_id FROM decision_edges WHERE kind = 'SUPERSEDES')
			 ORDER BY created_at ASC LIMIT $4`,
			userID, scope, cutoff, limit)
		if err != nil {
			return nil, fmt.Errorf("storage: stale decisions: %w", err)
		}
		ds, err := collectDecisions(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}
	return all, nil
}

// DecisionsWithAssumptions returns the user's decisions carrying at least one assumption.
func (db *DB) DecisionsWithAssumptions(ctx context.Context, userID string) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE user_id = $1 AND cardinality(assumptions) > 0
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions with assumptions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// DecisionsAfter returns the user's decisions created after t, ascending.
func (db *DB) DecisionsAfter(ctx context.Context, userID string, t time.Time) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE user_id = $1 AND created_at > $2 ORDER BY created_at ASC`, userID, t)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions after: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// SupersededDecisions returns decisions that are the target of a SUPERSEDES edge.
func (db *DB) SupersededDecisions(ctx context.Context, userID string, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+prefixedDecisionColumns("d")+` FROM decisions d
		 JOIN decision_edges e ON e.to_id = d.id AND e.kind = 'SUPERSEDES'
		 WHERE d.user_id = $1 ORDER BY e.created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: superseded decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// DecisionsMissingEmbeddings returns ids and embed text sources for decisions
// without an embedding, oldest first. Used by the startup backfill.
func (db *DB) DecisionsMissingEmbeddings(ctx context.Context, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: decisions missing embeddings: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// SetDecisionEmbedding stores the embedding for a decision.
func (db *DB) SetDecisionEmbedding(ctx context.Context, id uuid.UUID, emb pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE decisions SET embedding = $1 WHERE id = $2`, emb, id)
	if err != nil {
		return fmt.Errorf("storage: set decision embedding: %w", err)
	}
	return nil
}

// CountDecisions returns the number of decisions visible to the user.
func (db *DB) CountDecisions(ctx context.Context, userID, project string) (int, error) {
	query := `SELECT COUNT(*) FROM decisions WHERE (user_id = $1 OR user_id IS NULL)`
	args := []any{userID}
	if project != "" {
		query += ` AND project = $2`
		args = append(args, project)
	}
	var n int
	if err := db.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count decisions: %w", err)
	}
	return n, nil
}

// DecisionUserIDs returns every user with at least one decision. Drives the
// per-user analyzer sweep.
func (db *DB) DecisionUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM decisions WHERE user_id IS NOT NULL ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: decision user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: decision user ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DecisionExists reports whether a decision with identical content already
// exists for the user. Used by bulk import duplicate skipping.
func (db *DB) DecisionExists(ctx context.Context, userID, agentDecision, trigger string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM decisions
		 WHERE user_id = $1 AND agent_decision = $2 AND trigger = $3)`,
		userID, agentDecision, trigger).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: decision exists: %w", err)
	}
	return exists, nil
}

// ── Scanning helpers ───────────────────────────────────────────────────────────

func prefixedDecisionColumns(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.project, ` + alias + `.trigger, ` +
		alias + `.context, ` + alias + `.agent_decision, ` + alias + `.agent_rationale, ` +
		alias + `.options, ` + alias + `.confidence, ` + alias + `.scope, ` + alias + `.assumptions, ` +
		alias + `.source, ` + alias + `.provenance, ` + alias + `.grounding, ` +
		alias + `.human_decision, ` + alias + `.human_rationale, ` + alias + `.created_at, ` +
		alias + `.edited_at, ` + alias + `.edit_count`
}

func scanDecision(row pgx.Row) (model.Decision, error) {
	var d model.Decision
	var scope, source string
	var prov []byte
	var grounding []byte
	err := row.Scan(&d.ID, &d.UserID, &d.Project, &d.Trigger, &d.Context,
		&d.AgentDecision, &d.AgentRationale, &d.Options, &d.Confidence,
		&scope, &d.Assumptions, &source, &prov, &grounding,
		&d.HumanDecision, &d.HumanRationale, &d.CreatedAt, &d.EditedAt, &d.EditCount)
	if err != nil {
		return model.Decision{}, err
	}
	d.Scope = model.Scope(scope)
	d.Source = model.Source(source)
	if err := decodeDecisionDocs(&d, prov, grounding); err != nil {
		return model.Decision{}, err
	}
	return d, nil
}

// decodeDecisionDocs fills the provenance and grounding documents from their
// stored JSON. Every scan path goes through here so search hits carry the
// same payload as direct reads.
func decodeDecisionDocs(d *model.Decision, prov, grounding []byte) error {
	if len(prov) > 0 {
		if err := json.Unmarshal(prov, &d.Provenance); err != nil {
			return fmt.Errorf("storage: unmarshal provenance: %w", err)
		}
	}
	if len(grounding) > 0 {
		var g model.Grounding
		if err := json.Unmarshal(grounding, &g); err != nil {
			return fmt.Errorf("storage: unmarshal grounding: %w", err)
		}
		d.Grounding = &g
	}
	return nil
}

func collectDecisions(rows pgx.Rows) ([]model.Decision, error) {
	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
