package sampler

import (
	"context"
	"regexp"
	"time"

	"github.com/bitville/postgres-agent/internal/domain"
)

// correlationPattern extracts the correlation id an upstream application
// encodes into its session's application_name, e.g.
// "bitville-550e8400-e29b-41d4-a716-446655440000".
var correlationPattern = regexp.MustCompile(`bitville-([a-f0-9-]{36})`)

const activityQuery = `
	SELECT
		pid,
		usename,
		application_name,
		client_addr,
		client_port,
		backend_start,
		xact_start,
		query_start,
		state_change,
		wait_event_type,
		wait_event,
		state,
		query,
		backend_type
	FROM pg_stat_activity
	WHERE state != 'idle'
	  AND pid != pg_backend_pid()
	ORDER BY query_start DESC NULLS LAST
	LIMIT 100
`

// ActiveSessions is the canary sampler: unlike every other sampler, its
// errors propagate to the caller instead of degrading to an empty
// result, because a failure here means the database itself is
// unreachable. The whole result set becomes a single record; each
// session row carries its own correlation_id so downstream consumers can
// still join individual sessions to originating requests. The second
// return value reports whether any sessions were found; callers should
// skip building an envelope when it's false.
func ActiveSessions(ctx context.Context, q Querier) (domain.Record, bool, error) {
	rows, err := q.Query(ctx, activityQuery)
	if err != nil {
		return domain.Record{}, false, err
	}

	maps, err := rowsToMaps(rows)
	if err != nil {
		return domain.Record{}, false, err
	}

	sessions := make([]any, 0, len(maps))
	for _, row := range maps {
		appName, _ := row["application_name"].(string)
		var correlationID any
		if appName != "" {
			if m := correlationPattern.FindStringSubmatch(appName); m != nil {
				correlationID = m[1]
			}
		}
		row["correlation_id"] = correlationID

		for _, field := range []string{"backend_start", "xact_start", "query_start", "state_change"} {
			if ts, ok := row[field].(time.Time); ok {
				row[field] = ts.Format(time.RFC3339Nano)
			}
		}
		if addr, ok := row["client_addr"]; ok && addr != nil {
			row["client_addr"] = stringify(addr)
		}

		sessions = append(sessions, row)
	}

	return domain.Record{
		Source: domain.SourcePgStatActivity,
		Data:   map[string]any{"sessions": sessions},
	}, len(sessions) > 0, nil
}

func stringify(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
