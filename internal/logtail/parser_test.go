package logtail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry_DetailedFormat(t *testing.T) {
	raw := "2024-01-02 15:04:05.123 UTC [1234] [appuser] [mydb] LOG:  duration: 12.5 ms  statement: SELECT 1"

	record, ok := parseEntry(raw)
	require.True(t, ok)
	assert.Equal(t, 1234, record.Data["pid"])
	assert.Equal(t, "LOG", record.Data["level"])
	assert.Equal(t, "appuser", record.Data["user"])
	assert.Equal(t, "mydb", record.Data["database"])
	assert.Equal(t, 12.5, record.Data["duration_ms"])
	assert.Equal(t, "SELECT 1", record.Data["statement"])
}

func TestParseEntry_PermissiveFormat(t *testing.T) {
	raw := "2024-01-02 15:04:05 some-prefix [5678] ERROR: connection reset by peer"

	record, ok := parseEntry(raw)
	require.True(t, ok)
	assert.Equal(t, 5678, record.Data["pid"])
	assert.Equal(t, "ERROR", record.Data["level"])
	assert.Equal(t, "connection reset by peer", record.Data["message"])
}

func TestParseEntry_UnrecognizedLineDropped(t *testing.T) {
	_, ok := parseEntry("not a postgres log line at all")
	assert.False(t, ok)
}

func TestParseEntry_TruncatesLongStatement(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	raw := "2024-01-02 15:04:05.000 UTC [1] LOG:  statement: " + string(long)

	record, ok := parseEntry(raw)
	require.True(t, ok)
	statement := record.Data["statement"].(string)
	assert.Less(t, len(statement), 3000)
	assert.Contains(t, statement, "…[truncated]")
}

func TestParseEntry_ExtractsCorrelationIDFromStatement(t *testing.T) {
	raw := "2024-01-02 15:04:05.000 UTC [55] LOG:  statement: /* bitville-550e8400-e29b-41d4-a716-446655440000 */ SELECT 1"

	record, ok := parseEntry(raw)
	require.True(t, ok)
	require.NotNil(t, record.CorrelationID)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", *record.CorrelationID)
}

func TestParseEntry_MultiLineMessage(t *testing.T) {
	raw := "2024-01-02 15:04:05.000 UTC [99] ERROR:  syntax error at or near \"FROM\"\nLINE 1: SELECT FROM x"

	record, ok := parseEntry(raw)
	require.True(t, ok)
	assert.Contains(t, record.Data["message"], "LINE 1: SELECT FROM x")
}

// parse_log_line(render_log_line(entry)) = entry, restricted to entries
// built from the detailed log_line_prefix fields.
func TestParseRenderRoundTrip(t *testing.T) {
	cases := []string{
		"2024-01-02 15:04:05.123 UTC [1234] [appuser] [mydb] LOG:  duration: 12.5 ms  statement: SELECT 1",
		"2024-01-02 15:04:05.000 UTC [1] LOG:  checkpoint starting: time",
		"2024-01-02 15:04:05.000 UTC [55] LOG:  statement: /* bitville-550e8400-e29b-41d4-a716-446655440000 */ SELECT 1",
	}

	for _, raw := range cases {
		entry, ok := parseEntry(raw)
		require.True(t, ok, raw)

		rendered, ok := renderEntry(entry)
		require.True(t, ok, raw)

		roundTripped, ok := parseEntry(rendered)
		require.True(t, ok, rendered)
		assert.Equal(t, entry, roundTripped)
	}
}
