package sampler

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/bitville/postgres-agent/pkg/observability"
)

const extensionCheckQuery = `SELECT COUNT(*) FROM pg_extension WHERE extname = 'pg_stat_statements'`

const statementsQuery = `
	SELECT
		queryid,
		query,
		calls,
		total_exec_time,
		mean_exec_time,
		min_exec_time,
		max_exec_time,
		stddev_exec_time,
		rows,
		shared_blks_hit,
		shared_blks_read,
		shared_blks_written,
		local_blks_hit,
		local_blks_read,
		local_blks_written,
		temp_blks_read,
		temp_blks_written,
		blk_read_time,
		blk_write_time
	FROM pg_stat_statements
	ORDER BY total_exec_time DESC
	LIMIT $1
`

// StatementsSampler checks once, with memoization, whether
// pg_stat_statements is installed before every subsequent Sample call.
type StatementsSampler struct {
	once      sync.Once
	available bool
	logger    ports.Logger
}

func NewStatementsSampler(logger ports.Logger) *StatementsSampler {
	return &StatementsSampler{logger: logger}
}

func (s *StatementsSampler) checkAvailable(ctx context.Context, q Querier) bool {
	s.once.Do(func() {
		rows, err := q.Query(ctx, extensionCheckQuery)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("pg_stat_statements availability check failed", ports.Err(err))
			}
			s.available = false
			return
		}
		defer rows.Close()

		var count int64
		for rows.Next() {
			if err := rows.Scan(&count); err != nil {
				s.available = false
				return
			}
		}
		s.available = count > 0

		if s.logger != nil {
			if s.available {
				s.logger.Info("pg_stat_statements available")
			} else {
				s.logger.Warn("pg_stat_statements not installed",
					ports.String("hint", "CREATE EXTENSION pg_stat_statements;"))
			}
		}
	})
	return s.available
}

// Sample returns a single record aggregating the top-N statements by
// total_exec_time under Data["statements"]. The second return value
// reports whether the result is non-empty; callers should skip building
// an envelope when it's false. Every failure, including the extension
// check, degrades to an empty result and a logged warning.
func (s *StatementsSampler) Sample(ctx context.Context, q Querier, limit int) (domain.Record, bool) {
	empty := domain.Record{Source: domain.SourcePgStatStatements, Data: map[string]any{"statements": []any{}}}

	if limit <= 0 {
		limit = 100
	}
	if !s.checkAvailable(ctx, q) {
		return empty, false
	}

	rows, err := q.Query(ctx, statementsQuery, limit)
	if err != nil {
		observability.SamplerFailuresTotal.WithLabelValues(string(domain.SourcePgStatStatements)).Inc()
		if s.logger != nil {
			s.logger.Warn("pg_stat_statements query failed", ports.Err(err))
		}
		return empty, false
	}

	maps, err := rowsToMaps(rows)
	if err != nil {
		observability.SamplerFailuresTotal.WithLabelValues(string(domain.SourcePgStatStatements)).Inc()
		if s.logger != nil {
			s.logger.Warn("pg_stat_statements row decode failed", ports.Err(err))
		}
		return empty, false
	}

	statements := make([]any, 0, len(maps))
	for _, row := range maps {
		if queryID, ok := row["queryid"]; ok && queryID != nil {
			row["queryid"] = fmt.Sprintf("%v", queryID)
		}
		if query, ok := row["query"].(string); ok {
			row["query"] = truncate(query, 1000, "…[truncated]")
		}
		statements = append(statements, row)
	}

	return domain.Record{
		Source: domain.SourcePgStatStatements,
		Data:   map[string]any{"statements": statements},
	}, len(statements) > 0
}
