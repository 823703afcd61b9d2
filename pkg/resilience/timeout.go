// Package resilience provides small context-deadline helpers shared by
// components that wait on something external: a pooled connection, or
// the listener over HTTP.
package resilience

import (
	"context"
	"time"
)

// TimeoutConfig holds the agent's two external wait boundaries: how long
// to wait for a pooled database connection, and how long to wait for the
// listener to respond to a single POST.
type TimeoutConfig struct {
	PoolAcquire     time.Duration
	ListenerRequest time.Duration
}

// DefaultTimeoutConfig matches pgpool's own default acquire timeout and
// the listener client's response-header timeout.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		PoolAcquire:     30 * time.Second,
		ListenerRequest: 5 * time.Second,
	}
}

// PoolAcquireContext bounds how long the agent waits to acquire a pooled
// connection before giving up on that sampler for the current tick.
func (tc *TimeoutConfig) PoolAcquireContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.PoolAcquire)
}

// ListenerRequestContext bounds a single POST to the listener.
func (tc *TimeoutConfig) ListenerRequestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ListenerRequest)
}
