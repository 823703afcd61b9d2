package sampler

import (
	"context"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/bitville/postgres-agent/pkg/observability"
)

// locksQuery is the standard PostgreSQL wiki lock-monitoring join
// (https://wiki.postgresql.org/wiki/Lock_Monitoring), matching locks on
// the full key tuple with IS NOT DISTINCT FROM so NULL columns still
// compare equal.
const locksQuery = `
	SELECT
		blocked_locks.pid AS blocked_pid,
		blocked_activity.usename AS blocked_user,
		blocked_activity.application_name AS blocked_application,
		blocked_activity.client_addr AS blocked_client_addr,
		blocked_activity.query AS blocked_query,
		blocked_activity.query_start AS blocked_query_start,
		blocking_locks.pid AS blocking_pid,
		blocking_activity.usename AS blocking_user,
		blocking_activity.application_name AS blocking_application,
		blocking_activity.client_addr AS blocking_client_addr,
		blocking_activity.query AS blocking_query,
		blocking_activity.query_start AS blocking_query_start,
		blocked_locks.locktype,
		blocked_locks.mode AS blocked_mode,
		blocking_locks.mode AS blocking_mode
	FROM pg_catalog.pg_locks blocked_locks
	JOIN pg_catalog.pg_stat_activity blocked_activity
		ON blocked_activity.pid = blocked_locks.pid
	JOIN pg_catalog.pg_locks blocking_locks
		ON blocking_locks.locktype = blocked_locks.locktype
		AND blocking_locks.database IS NOT DISTINCT FROM blocked_locks.database
		AND blocking_locks.relation IS NOT DISTINCT FROM blocked_locks.relation
		AND blocking_locks.page IS NOT DISTINCT FROM blocked_locks.page
		AND blocking_locks.tuple IS NOT DISTINCT FROM blocked_locks.tuple
		AND blocking_locks.virtualxid IS NOT DISTINCT FROM blocked_locks.virtualxid
		AND blocking_locks.transactionid IS NOT DISTINCT FROM blocked_locks.transactionid
		AND blocking_locks.classid IS NOT DISTINCT FROM blocked_locks.classid
		AND blocking_locks.objid IS NOT DISTINCT FROM blocked_locks.objid
		AND blocking_locks.objsubid IS NOT DISTINCT FROM blocked_locks.objsubid
		AND blocking_locks.pid != blocked_locks.pid
	JOIN pg_catalog.pg_stat_activity blocking_activity
		ON blocking_activity.pid = blocking_locks.pid
	WHERE NOT blocked_locks.granted
	ORDER BY blocked_activity.query_start
	LIMIT 50
`

// BlockingLocks detects blocking queries and lock contention. A single
// domain.Record is always produced, even with zero rows, because the
// absence of blocking is itself reportable.
func BlockingLocks(ctx context.Context, q Querier, logger ports.Logger) domain.Record {
	rows, err := q.Query(ctx, locksQuery)
	if err != nil {
		observability.SamplerFailuresTotal.WithLabelValues(string(domain.SourcePgLocks)).Inc()
		if logger != nil {
			logger.Warn("lock detection query failed", ports.Err(err))
		}
		return domain.Record{Source: domain.SourcePgLocks, Data: map[string]any{"blocking": []any{}}}
	}

	maps, err := rowsToMaps(rows)
	if err != nil {
		observability.SamplerFailuresTotal.WithLabelValues(string(domain.SourcePgLocks)).Inc()
		if logger != nil {
			logger.Warn("lock detection row decode failed", ports.Err(err))
		}
		return domain.Record{Source: domain.SourcePgLocks, Data: map[string]any{"blocking": []any{}}}
	}

	blocking := make([]any, 0, len(maps))
	for _, row := range maps {
		for _, field := range []string{"blocked_query_start", "blocking_query_start"} {
			if ts, ok := row[field].(time.Time); ok {
				row[field] = ts.Format(time.RFC3339Nano)
			}
		}
		for _, field := range []string{"blocked_client_addr", "blocking_client_addr"} {
			if v, ok := row[field]; ok && v != nil {
				row[field] = stringify(v)
			}
		}
		for _, field := range []string{"blocked_query", "blocking_query"} {
			if s, ok := row[field].(string); ok {
				row[field] = truncate(s, 500, "…[truncated]")
			}
		}
		blocking = append(blocking, row)
	}

	if len(blocking) > 0 && logger != nil {
		logger.Warn("blocking queries detected", ports.Int("count", len(blocking)))
	}

	return domain.Record{Source: domain.SourcePgLocks, Data: map[string]any{"blocking": blocking}}
}
