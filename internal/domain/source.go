package domain

// Source identifies which producer a Record or Envelope originated from.
// The set is closed: no other value may appear on the wire.
type Source string

const (
	SourcePgStatActivity   Source = "pg_stat_activity"
	SourcePgStatStatements Source = "pg_stat_statements"
	SourcePgLocks          Source = "pg_locks"
	SourcePgLog            Source = "pg_log"
	SourceSystemMetrics    Source = "system_metrics"
)

// Valid reports whether s is a member of the closed source set.
func (s Source) Valid() bool {
	switch s {
	case SourcePgStatActivity, SourcePgStatStatements, SourcePgLocks, SourcePgLog, SourceSystemMetrics:
		return true
	default:
		return false
	}
}
