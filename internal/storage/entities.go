package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/continuumhq/continuum/internal/model"
)

const entityColumns = `id, user_id, name, type, aliases, created_at`

// CreateEntity inserts a canonical entity. The (user_id, name) uniqueness
// constraint enforces one canonical spelling per semantic entity per user;
// concurrent creates of the same name resolve to the surviving row.
func (db *DB) CreateEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Aliases == nil {
		e.Aliases = []string{}
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO entities (id, user_id, name, type, aliases, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		e.ID, e.UserID, e.Name, string(e.Type), e.Aliases, e.Embedding, e.CreatedAt)
	if err := row.Scan(&e.ID); err != nil {
		return model.Entity{}, fmt.Errorf("storage: create entity: %w", err)
	}
	return e, nil
}

// GetEntity retrieves an entity by id within the user's reachable set.
func (db *DB) GetEntity(ctx context.Context, userID string, id uuid.UUID) (model.Entity, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE id = $1 AND (user_id = $2 OR user_id IS NULL)`, id, userID)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, ErrNotFound
		}
		return model.Entity{}, fmt.Errorf("storage: get entity: %w", err)
	}
	return e, nil
}

// FindEntityByName does a case-folded exact match on the canonical name.
func (db *DB) FindEntityByName(ctx context.Context, userID, name string) (model.Entity, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE (user_id = $1 OR user_id IS NULL) AND lower(name) = lower($2)
		 ORDER BY user_id NULLS LAST LIMIT 1`, userID, name)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, ErrNotFound
		}
		return model.Entity{}, fmt.Errorf("storage: find entity by name: %w", err)
	}
	return e, nil
}

// FindEntityByAlias matches entities whose aliases array contains the mention
// (case-folded).
func (db *DB) FindEntityByAlias(ctx context.Context, userID, alias string) (model.Entity, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE (user_id = $1 OR user_id IS NULL)
		   AND EXISTS (SELECT 1 FROM unnest(aliases) a WHERE lower(a) = lower($2))
		 ORDER BY user_id NULLS LAST LIMIT 1`, userID, alias)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, ErrNotFound
		}
		return model.Entity{}, fmt.Errorf("storage: find entity by alias: %w", err)
	}
	return e, nil
}

// ListEntities returns the user's reachable entities, optionally filtered by type.
func (db *DB) ListEntities(ctx context.Context, userID string, entityType string, limit, offset int) ([]model.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + entityColumns + ` FROM entities WHERE (user_id = $1 OR user_id IS NULL)`
	args := []any{userID}
	if entityType != "" {
		query += ` AND type = $2`
		args = append(args, entityType)
	}
	query += fmt.Sprintf(` ORDER BY name ASC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// EntityNamesForFuzzy returns (id, name) pairs for the user's reachable
// entities, for in-process fuzzy matching. The resolver caps its use of this
// to the fuzzy stage, which only runs after exact/alias stages miss.
func (db *DB) EntityNamesForFuzzy(ctx context.Context, userID string) (map[uuid.UUID]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name FROM entities WHERE (user_id = $1 OR user_id IS NULL)`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: entity names: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("storage: scan entity name: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// FindSimilarEntitiesByEmbedding returns entities ordered by cosine similarity
// to the query vector, with similarity scores.
func (db *DB) FindSimilarEntitiesByEmbedding(ctx context.Context, userID string, emb pgvector.Vector, limit int) ([]model.Entity, []float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+entityColumns+`, 1 - (embedding <=> $2) AS similarity
		 FROM entities
		 WHERE (user_id = $1 OR user_id IS NULL) AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2 LIMIT $3`, userID, emb, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: similar entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	var sims []float64
	for rows.Next() {
		var e model.Entity
		var typ string
		var sim float64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &typ, &e.Aliases, &e.CreatedAt, &sim); err != nil {
			return nil, nil, fmt.Errorf("storage: scan similar entity: %w", err)
		}
		e.Type = model.EntityType(typ)
		entities = append(entities, e)
		sims = append(sims, sim)
	}
	return entities, sims, rows.Err()
}

// UpdateEntity updates name, type, and aliases. Owner-scoped.
func (db *DB) UpdateEntity(ctx context.Context, e model.Entity) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE entities SET name = $1, type = $2, aliases = $3,
		 embedding = COALESCE($4, embedding)
		 WHERE id = $5 AND user_id = $6`,
		e.Name, string(e.Type), e.Aliases, e.Embedding, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("storage: update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntity removes an entity. Without force, deletion is blocked while any
// of the user's decisions still reference it. Never crosses tenants.
func (db *DB) DeleteEntity(ctx context.Context, userID string, id uuid.UUID, force bool) error {
	if !force {
		var refs int
		if err := db.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM involves WHERE entity_id = $1 AND user_id = $2`,
			id, userID).Scan(&refs); err != nil {
			return fmt.Errorf("storage: count entity refs: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: entity referenced by %d decisions", ErrConflict, refs)
		}
	}
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM entities WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EntityDecisions returns decisions that INVOLVE the given entity.
func (db *DB) EntityDecisions(ctx context.Context, userID string, entityID uuid.UUID, limit int) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+prefixedDecisionColumns("d")+` FROM decisions d
		 JOIN involves i ON i.decision_id = d.id
		 WHERE i.entity_id = $1 AND (d.user_id = $2 OR d.user_id IS NULL)
		 ORDER BY d.created_at DESC LIMIT $3`, entityID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: entity decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// DecisionEntities returns the entities a decision INVOLVES, with edge roles
// folded in where present.
func (db *DB) DecisionEntities(ctx context.Context, userID string, decisionID uuid.UUID) ([]model.Entity, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+prefixedEntityColumns("e")+` FROM entities e
		 JOIN involves i ON i.entity_id = e.id
		 WHERE i.decision_id = $1 AND (e.user_id = $2 OR e.user_id IS NULL)
		 ORDER BY e.name ASC`, decisionID, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: decision entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// EntityNameVariants returns in-graph mention spellings that occur at least
// minCount times, for the ontology updater.
func (db *DB) EntityNameVariants(ctx context.Context, minCount int) (map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT lower(name), COUNT(*) FROM entities
		 GROUP BY lower(name) HAVING COUNT(*) >= $1`, minCount)
	if err != nil {
		return nil, fmt.Errorf("storage: entity name variants: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("storage: scan variant: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func prefixedEntityColumns(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.name, ` +
		alias + `.type, ` + alias + `.aliases, ` + alias + `.created_at`
}

func scanEntity(row pgx.Row) (model.Entity, error) {
	var e model.Entity
	var typ string
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &typ, &e.Aliases, &e.CreatedAt)
	if err != nil {
		return model.Entity{}, err
	}
	e.Type = model.EntityType(typ)
	return e, nil
}

func collectEntities(rows pgx.Rows) ([]model.Entity, error) {
	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
