package domain

// Record is an opaque per-source payload produced by a sampler or the log
// tailer. Data holds JSON-representable values; CorrelationID is nil when
// the originating row carried no `bitville-<uuid>` application_name tag.
type Record struct {
	Source        Source
	Data          map[string]any
	CorrelationID *string
}

// NewRecord builds a Record with an empty body for a given source.
func NewRecord(source Source) Record {
	return Record{Source: source, Data: make(map[string]any)}
}
