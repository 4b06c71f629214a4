package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// LookupAliasMapping resolves an alias to its canonical name in the dynamic
// dictionary. The dictionary is process-wide, not tenant-scoped: it holds
// registry-mined spellings, not user data.
func (db *DB) LookupAliasMapping(ctx context.Context, alias string) (string, bool, error) {
	var canonical string
	err := db.pool.QueryRow(ctx,
		`SELECT canonical FROM alias_mappings WHERE alias = $1`,
		strings.ToLower(strings.TrimSpace(alias))).Scan(&canonical)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: lookup alias mapping: %w", err)
	}
	return canonical, true, nil
}

// CreateAliasMapping adds an alias → canonical mapping. Existing mappings are
// never overwritten. Returns whether a new row was written.
func (db *DB) CreateAliasMapping(ctx context.Context, alias, canonical, source string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO alias_mappings (alias, canonical, source)
		 VALUES ($1, $2, $3) ON CONFLICT (alias) DO NOTHING`,
		strings.ToLower(strings.TrimSpace(alias)), canonical, source)
	if err != nil {
		return false, fmt.Errorf("storage: create alias mapping: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountAliasMappings returns the dynamic dictionary size.
func (db *DB) CountAliasMappings(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alias_mappings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count alias mappings: %w", err)
	}
	return n, nil
}
