package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/model"
)

// CreateCommit upserts a commit node keyed by SHA.
func (db *DB) CreateCommit(ctx context.Context, c model.Commit) error {
	c.NormalizeMessage()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO commits (sha, short_sha, message, author, committed_at, files_changed, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (sha) DO NOTHING`,
		c.SHA, c.ShortSHA, c.Message, c.Author, c.CommittedAt, c.FilesChanged, c.UserID)
	if err != nil {
		return fmt.Errorf("storage: create commit: %w", err)
	}
	return nil
}

// CreateTouchesEdges writes the commit→file edges and upserts CodeEntity rows
// for files not yet tracked. Returns the number of TOUCHES edges created.
func (db *DB) CreateTouchesEdges(ctx context.Context, sha, userID string, files []string) (int, error) {
	created := 0
	for _, f := range files {
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO code_entities (id, user_id, file_path)
			 VALUES ($1, $2, $3) ON CONFLICT (user_id, file_path) DO NOTHING`,
			uuid.New(), userID, f); err != nil {
			return created, fmt.Errorf("storage: upsert code entity: %w", err)
		}
		tag, err := db.pool.Exec(ctx,
			`INSERT INTO touches (commit_sha, file_path, user_id)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, sha, f, userID)
		if err != nil {
			return created, fmt.Errorf("storage: create touches edge: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// CreateImplementedByEdge links a decision to a commit with its overlap score.
func (db *DB) CreateImplementedByEdge(ctx context.Context, e model.ImplementedByEdge) error {
	if e.LinkedAt.IsZero() {
		e.LinkedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO implemented_by (decision_id, commit_sha, user_id, score, linked_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (decision_id, commit_sha) DO UPDATE SET score = EXCLUDED.score`,
		e.DecisionID, e.CommitSHA, e.UserID, e.Score, e.LinkedAt)
	if err != nil {
		return fmt.Errorf("storage: create implemented_by edge: %w", err)
	}
	return nil
}

// GetCommit retrieves a commit by SHA within the user's scope.
func (db *DB) GetCommit(ctx context.Context, userID, sha string) (model.Commit, error) {
	var c model.Commit
	err := db.pool.QueryRow(ctx,
		`SELECT sha, short_sha, message, author, committed_at, files_changed, user_id
		 FROM commits WHERE sha = $1 AND user_id = $2`, sha, userID).
		Scan(&c.SHA, &c.ShortSHA, &c.Message, &c.Author, &c.CommittedAt, &c.FilesChanged, &c.UserID)
	if err != nil {
		return model.Commit{}, ErrNotFound
	}
	return c, nil
}
