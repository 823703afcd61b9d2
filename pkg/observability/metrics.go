// Package observability exposes the agent's own self-metrics: breaker
// state, buffer depth, eviction counts, tick duration, and per-sampler
// soft-failure counts. This is distinct from the system_metrics source
// the agent forwards to the listener.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreakerState reports the circuit breaker's current state as a
	// gauge: 0 closed, 1 open, 2 half_open (breaker.State's values).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitville_pg_agent_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
	})

	// BufferDepth reports the number of envelopes currently persisted
	// in the local buffer.
	BufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitville_pg_agent_buffer_depth",
		Help: "Number of envelopes currently held in the persistent buffer",
	})

	// BufferBytes reports the buffer's on-disk size.
	BufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitville_pg_agent_buffer_bytes",
		Help: "Bytes currently used by the persistent buffer",
	})

	// BufferEvictionsTotal counts entries discarded by eviction when the
	// buffer exceeds its configured capacity.
	BufferEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitville_pg_agent_buffer_evictions_total",
		Help: "Total number of buffer entries evicted",
	})

	// TickDuration measures how long each collection tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bitville_pg_agent_tick_duration_seconds",
		Help:    "Duration of a single collection tick",
		Buckets: prometheus.DefBuckets,
	})

	// SamplerFailuresTotal counts failed sampler invocations by source.
	// The statements and locks samplers count their own soft failures;
	// the active-session canary's errors propagate and are counted by the
	// scheduler under pg_stat_activity.
	SamplerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitville_pg_agent_sampler_failures_total",
		Help: "Total number of sampler failures by source",
	}, []string{"source"})

	// EnvelopesTotal counts envelopes processed by outcome (sent or
	// buffered).
	EnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitville_pg_agent_envelopes_total",
		Help: "Total number of envelopes processed by outcome",
	}, []string{"outcome"})
)

// Handler returns the Prometheus scrape handler for the agent's
// self-metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
