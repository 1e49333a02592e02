package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one conflict-keyed bulk write.
type UpsertConfig struct {
	// Table is the unqualified target table name.
	Table string
	// Columns lists every column present in the rows, in row order.
	Columns []string
	// ConflictKeys are the columns of the target's unique constraint.
	ConflictKeys []string
	// UpdateCols are the columns rewritten when a row already exists; nil
	// means every non-key column.
	UpdateCols []string
}

// BulkUpsert stages rows into a session temp table via COPY and folds them
// into the target with INSERT ... ON CONFLICT, all in one transaction. It
// returns the number of rows written to the target.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	staging := "_staging_" + cfg.Table
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		quoteIdent(staging), quoteIdent(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging for %s", cfg.Table)
	}

	// When every column is part of the key there is nothing to rewrite;
	// existing rows are simply kept.
	conflictAction := "DO NOTHING"
	if set := setClause(cfg); set != "" {
		conflictAction = "DO UPDATE SET " + set
	}

	cols := quoteList(cfg.Columns)
	mergeSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		quoteIdent(cfg.Table), cols, cols, quoteIdent(staging),
		quoteList(cfg.ConflictKeys), conflictAction,
	)
	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// setClause renders the DO UPDATE assignments for cfg, defaulting to every
// non-key column.
func setClause(cfg UpsertConfig) string {
	cols := cfg.UpdateCols
	if cols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				cols = append(cols, c)
			}
		}
	}

	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quoteIdent(c) + " = EXCLUDED." + quoteIdent(c)
	}
	return strings.Join(parts, ", ")
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
