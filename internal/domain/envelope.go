package domain

import "encoding/json"

// Envelope is the unit of transmission to the listener. It is immutable
// once built: no field is mutated after construction, and JSON
// (de)serialization round-trips it exactly.
type Envelope struct {
	correlationID string
	project       string
	timestamp     float64
	source        Source
	data          map[string]any
}

// NewEnvelope constructs an immutable Envelope. Neither NewEnvelope nor
// envelope.Build checks project or source: a non-empty project comes from
// config.LoadFromEnv, which refuses to start without one, and source comes
// from the record's typed Source constant.
func NewEnvelope(correlationID, project string, timestamp float64, source Source, data map[string]any) Envelope {
	return Envelope{
		correlationID: correlationID,
		project:       project,
		timestamp:     timestamp,
		source:        source,
		data:          data,
	}
}

func (e Envelope) CorrelationID() string    { return e.correlationID }
func (e Envelope) Project() string          { return e.project }
func (e Envelope) Timestamp() float64       { return e.timestamp }
func (e Envelope) Source() Source           { return e.source }
func (e Envelope) Data() map[string]any     { return e.data }

type envelopeWire struct {
	CorrelationID string         `json:"correlation_id"`
	Project       string         `json:"project"`
	Timestamp     float64        `json:"timestamp"`
	Source        Source         `json:"source"`
	Data          map[string]any `json:"data"`
}

// MarshalJSON implements the wire format spec.md §3 describes.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeWire{
		CorrelationID: e.correlationID,
		Project:       e.project,
		Timestamp:     e.timestamp,
		Source:        e.source,
		Data:          e.data,
	})
}

// UnmarshalJSON restores an Envelope from its wire form, so the JSON
// encoding round-trips. The buffer's drain path (sender.FlushBuffered)
// posts the stored bytes as-is and does not decode them.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.correlationID = w.CorrelationID
	e.project = w.Project
	e.timestamp = w.Timestamp
	e.source = w.Source
	e.data = w.Data
	return nil
}
