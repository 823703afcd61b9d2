// Package sampler implements the four read-only collectors that run
// against the agent's connection pool: active sessions, statement
// statistics, blocking locks, and host metrics.
package sampler

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the pool surface every DB-backed sampler needs. pgpool.Pool
// satisfies it; tests supply a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// rowsToMaps drains rows into one map per row, keyed by column name, and
// always closes rows before returning.
func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(names))
		for i, name := range names {
			record[name] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func truncate(s string, max int, suffix string) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + suffix
}
