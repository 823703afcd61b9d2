package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRows is a minimal pgx.Rows backed by an in-memory table, enough to
// drive rowsToMaps without a live database.
type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return fields
}
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p, _ = row[i].(int64)
		}
	}
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeQuerier struct {
	rows *fakeRows
	err  error
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestActiveSessions_ExtractsCorrelationID(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{
		columns: []string{"pid", "application_name", "query_start", "client_addr"},
		data: [][]any{
			{int64(123), "bitville-550e8400-e29b-41d4-a716-446655440000", time.Now(), nil},
			{int64(124), "psql", time.Now(), nil},
		},
	}}

	record, nonEmpty, err := ActiveSessions(context.Background(), q)
	require.NoError(t, err)
	require.True(t, nonEmpty)

	sessions := record.Data["sessions"].([]any)
	require.Len(t, sessions, 2)

	first := sessions[0].(map[string]any)
	second := sessions[1].(map[string]any)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", first["correlation_id"])
	assert.Nil(t, second["correlation_id"])
}

func TestActiveSessions_PropagatesErrors(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection refused")}

	_, _, err := ActiveSessions(context.Background(), q)
	assert.Error(t, err)
}

func TestStatementsSampler_UnavailableExtensionReturnsEmpty(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{
		columns: []string{"count"},
		data:    [][]any{{int64(0)}},
	}}

	s := NewStatementsSampler(nil)
	record, nonEmpty := s.Sample(context.Background(), q, 100)
	assert.False(t, nonEmpty)
	assert.Empty(t, record.Data["statements"].([]any))
}

func TestStatementsSampler_TruncatesLongQueryText(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}

	checkQuerier := &fakeQuerier{rows: &fakeRows{columns: []string{"count"}, data: [][]any{{int64(1)}}}}
	s := NewStatementsSampler(nil)
	require.True(t, s.checkAvailable(context.Background(), checkQuerier))

	dataQuerier := &fakeQuerier{rows: &fakeRows{
		columns: []string{"queryid", "query"},
		data:    [][]any{{int64(42), string(long)}},
	}}

	record, nonEmpty := s.Sample(context.Background(), dataQuerier, 100)
	require.True(t, nonEmpty)
	statements := record.Data["statements"].([]any)
	require.Len(t, statements, 1)
	row := statements[0].(map[string]any)
	queryText := row["query"].(string)
	assert.True(t, len(queryText) < len(long))
	assert.Contains(t, queryText, "…[truncated]")
	assert.Equal(t, "42", row["queryid"])
}

func TestBlockingLocks_EmptyResultStillEmitsRecord(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{columns: []string{"blocked_pid"}, data: nil}}

	record := BlockingLocks(context.Background(), q, nil)
	assert.Equal(t, 0, len(record.Data["blocking"].([]any)))
}

func TestBlockingLocks_QueryErrorDegradesToEmpty(t *testing.T) {
	q := &fakeQuerier{err: errors.New("timeout")}

	record := BlockingLocks(context.Background(), q, nil)
	assert.Equal(t, 0, len(record.Data["blocking"].([]any)))
}

func TestHostMetrics_AlwaysProducesRecord(t *testing.T) {
	record := HostMetrics(nil)
	assert.Equal(t, "system_metrics", string(record.Source))
	assert.Contains(t, record.Data, "cpu")
	assert.Contains(t, record.Data, "memory")
}
