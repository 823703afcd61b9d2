package sender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitville/postgres-agent/internal/breaker"
	"github.com/bitville/postgres-agent/internal/buffer"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPClient struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	status int
	err    error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	r := f.responses[f.calls]
	f.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{StatusCode: r.status, Body: io.NopCloser(new(stubBody))}, nil
}

type stubBody struct{}

func (b *stubBody) Read(p []byte) (int, error) { return 0, io.EOF }

func newTestSender(t *testing.T, responses []fakeResponse) (*Sender, *buffer.Buffer, *breaker.Breaker) {
	t.Helper()
	buf, err := buffer.Open(filepath.Join(t.TempDir(), "b.bolt"), 1<<20, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })

	br := breaker.New(breaker.Config{FailMax: 2, ResetTimeout: 10 * time.Millisecond}, nil)
	client := &fakeHTTPClient{responses: responses}

	return New(Config{ListenerURL: "http://listener.invalid/ingest", APIKey: "secret"}, client, br, buf, nil), buf, br
}

func testEnvelope() domain.Envelope {
	return domain.NewEnvelope("", "acme", 100, domain.SourceSystemMetrics, map[string]any{"x": 1})
}

func TestSend_SuccessReturnsSent(t *testing.T) {
	s, buf, _ := newTestSender(t, []fakeResponse{{status: 200}})

	outcome, err := s.Send(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, Sent, outcome)

	count, _, _ := buf.Size()
	assert.Equal(t, 0, count)
}

func TestSend_NonSuccessBuffersEnvelope(t *testing.T) {
	s, buf, _ := newTestSender(t, []fakeResponse{{status: 503}})

	outcome, err := s.Send(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, Buffered, outcome)

	count, _, _ := buf.Size()
	assert.Equal(t, 1, count)
}

func TestSend_TransportErrorBuffersEnvelope(t *testing.T) {
	s, buf, _ := newTestSender(t, []fakeResponse{{err: errors.New("dial tcp: refused")}})

	outcome, err := s.Send(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, Buffered, outcome)

	count, _, _ := buf.Size()
	assert.Equal(t, 1, count)
}

func TestSend_OpenBreakerBuffersWithoutNetworkAttempt(t *testing.T) {
	s, buf, br := newTestSender(t, nil)
	_ = br.Call(func() error { return errors.New("x") })
	_ = br.Call(func() error { return errors.New("x") })
	require.Equal(t, breaker.StateOpen, br.State())

	outcome, err := s.Send(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, Buffered, outcome)

	count, _, _ := buf.Size()
	assert.Equal(t, 1, count)
}

func TestSendBatch_StopsEarlyOnBreakerOpen(t *testing.T) {
	s, buf, _ := newTestSender(t, []fakeResponse{{status: 503}, {status: 503}})

	envelopes := []domain.Envelope{testEnvelope(), testEnvelope(), testEnvelope()}
	sent, buffered, err := s.SendBatch(context.Background(), envelopes)
	require.NoError(t, err)

	assert.Equal(t, 0, sent)
	assert.Equal(t, 3, buffered)

	count, _, _ := buf.Size()
	assert.Equal(t, 3, count)
}

func TestFlushBuffered_RequeuesOnFailureAndStops(t *testing.T) {
	s, buf, _ := newTestSender(t, []fakeResponse{{status: 200}, {status: 503}})

	require.NoError(t, buf.Put([]byte(`{"source":"system_metrics"}`)))
	require.NoError(t, buf.Put([]byte(`{"source":"pg_log"}`)))

	flushed, err := s.FlushBuffered(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)

	count, _, _ := buf.Size()
	assert.Equal(t, 1, count)
}
