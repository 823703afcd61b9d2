// Package envelope builds transport-ready domain.Envelope values from
// sampler and log-tailer records.
package envelope

import (
	"github.com/bitville/postgres-agent/internal/domain"
)

// Clock returns the current time as seconds since epoch. Exists so tests
// can supply a fixed value instead of wall-clock time.
type Clock func() float64

// Build wraps a record into an envelope, stamping it with project identity
// and a construction-time timestamp. The api_key never touches the
// envelope body; it belongs to the sender's Authorization header.
func Build(clock Clock, record domain.Record, project string) domain.Envelope {
	correlationID := ""
	if record.CorrelationID != nil {
		correlationID = *record.CorrelationID
	}
	return domain.NewEnvelope(correlationID, project, clock(), record.Source, record.Data)
}
