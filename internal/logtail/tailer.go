// Package logtail follows the PostgreSQL server log, assembling
// multi-line entries (a statement with an embedded newline, a context
// block under an error) into single structured records.
package logtail

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/nxadm/tail"
)

// State names the tailer's position in its file-following lifecycle.
// waiting/rotated reflect nxadm/tail's own follow-and-reopen behavior;
// reading/polling reflect this package's multi-line assembly loop around
// it.
type State int

const (
	StateWaiting State = iota
	StateOpen
	StateReading
	StatePolling
	StateRotated
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StatePolling:
		return "polling"
	case StateRotated:
		return "rotated"
	default:
		return "unknown"
	}
}

var entryStart = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)

const defaultPollInterval = 100 * time.Millisecond

// Tailer follows a single log file and emits one domain.Record per
// assembled entry.
type Tailer struct {
	path         string
	pollInterval time.Duration
	logger       ports.Logger

	state        State
	pendingLines []string
	records      chan domain.Record
}

// New constructs a Tailer for path. pollInterval is stored on the Tailer
// (zero or negative becomes 100ms), but Run does not pass it to
// nxadm/tail: the file is polled at nxadm/tail's own poll interval.
func New(path string, pollInterval time.Duration, logger ports.Logger) *Tailer {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Tailer{
		path:         path,
		pollInterval: pollInterval,
		logger:       logger,
		state:        StateWaiting,
		records:      make(chan domain.Record, 64),
	}
}

// Records returns the channel the log pump consumes from. It is closed
// once Run returns.
func (t *Tailer) Records() <-chan domain.Record {
	return t.records
}

// State reports the tailer's current lifecycle position.
func (t *Tailer) State() State {
	return t.state
}

// Run follows the file until ctx is canceled, flushing any pending
// multi-line entry before returning. It never blocks shutdown waiting
// for new data.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.records)

	tailer, err := tail.TailFile(t.path, tail.Config{
		ReOpen:      true,
		Follow:      true,
		MustExist:   false,
		Poll:        true,
		MaxLineSize: 1 << 16,
		Location:    &tail.SeekInfo{Whence: io.SeekEnd},
	})
	if err != nil {
		return err
	}
	defer tailer.Cleanup()

	t.state = StateOpen
	if t.logger != nil {
		t.logger.Info("log tailer opened", ports.String("path", t.path))
	}

	for {
		select {
		case <-ctx.Done():
			t.flush()
			_ = tailer.Stop()
			return nil

		case line, ok := <-tailer.Lines:
			if !ok {
				t.flush()
				return nil
			}
			if line.Err != nil {
				if t.logger != nil {
					t.logger.Warn("log tailer read error", ports.Err(line.Err))
				}
				t.flush()
				t.state = StateRotated
				continue
			}

			t.state = StateReading
			t.consume(line.Text)
			t.state = StatePolling
		}
	}
}

// consume appends text to the pending multi-line buffer, emitting the
// previously buffered entry first if text starts a new one.
func (t *Tailer) consume(text string) {
	if entryStart.MatchString(text) && len(t.pendingLines) > 0 {
		t.flush()
	}
	t.pendingLines = append(t.pendingLines, text)
}

func (t *Tailer) flush() {
	if len(t.pendingLines) == 0 {
		return
	}
	raw := strings.Join(t.pendingLines, "\n")
	t.pendingLines = nil

	record, ok := parseEntry(raw)
	if !ok {
		return
	}
	t.records <- record
}
