// Package breaker implements the three-state circuit breaker gating all
// outbound HTTP from the agent to the listener.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
)

// State is one position in the closed/open/half_open automaton.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without touching the
// network because the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes breaker thresholds.
type Config struct {
	// FailMax is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailMax uint32
	// ResetTimeout is how long the breaker stays open before admitting
	// a single half-open trial.
	ResetTimeout time.Duration
}

// DefaultConfig matches the thresholds a deployed agent runs with.
func DefaultConfig() Config {
	return Config{
		FailMax:      5,
		ResetTimeout: 60 * time.Second,
	}
}

// Breaker is process-wide: one instance gates every outbound send for the
// lifetime of the agent.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures uint32
	openedAt            time.Time
	halfOpenInFlight    bool
	config              Config
	logger              ports.Logger
	onTransition        func(State)
}

// Option configures optional Breaker behavior.
type Option func(*Breaker)

// WithTransitionHook registers a callback invoked after every state
// transition, with the new state. Used to feed the self-metrics gauge.
func WithTransitionHook(fn func(State)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

func New(config Config, logger ports.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		state:  StateClosed,
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call runs fn if the breaker currently admits a call, recording the
// outcome against the automaton. It returns ErrCircuitOpen without
// invoking fn when the breaker is open, or when a half-open trial is
// already in flight.
func (b *Breaker) Call(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpenInFlight = true
		return nil

	case StateHalfOpen:
		if b.halfOpenInFlight {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) record(callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		if callErr == nil {
			b.consecutiveFailures = 0
			b.transition(StateClosed)
		} else {
			b.transition(StateOpen)
		}

	case StateClosed:
		if callErr == nil {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailMax {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
	}

	if b.logger != nil {
		b.logger.Info("breaker state transition",
			ports.String("from", from.String()),
			ports.String("to", to.String()),
			ports.Int("consecutive_failures", int(b.consecutiveFailures)),
		)
	}
	if b.onTransition != nil {
		b.onTransition(to)
	}
}

// State returns the current automaton state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
