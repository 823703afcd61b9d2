// Package sender delivers envelopes to the listener over HTTP, falling
// back to the persistent buffer whenever the breaker is open or a
// delivery attempt fails.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/breaker"
	"github.com/bitville/postgres-agent/internal/buffer"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/bitville/postgres-agent/pkg/resilience"
)

// Outcome reports what happened to a single envelope.
type Outcome int

const (
	Sent Outcome = iota
	Buffered
)

func (o Outcome) String() string {
	if o == Sent {
		return "sent"
	}
	return "buffered"
}

// Config configures outbound delivery.
type Config struct {
	ListenerURL string
	APIKey      string
}

// Sender posts envelopes to the listener, gated by a breaker and backed
// by a persistent buffer for anything it can't deliver immediately.
type Sender struct {
	config     Config
	httpClient ports.HTTPClient
	breaker    *breaker.Breaker
	buffer     *buffer.Buffer
	logger     ports.Logger
	onOutcome  func(Outcome)
}

// Option configures optional Sender behavior.
type Option func(*Sender)

// WithOutcomeHook registers a callback invoked after every Send, with the
// resulting outcome. Used to feed the self-metrics counter.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(s *Sender) { s.onOutcome = fn }
}

func New(config Config, httpClient ports.HTTPClient, b *breaker.Breaker, buf *buffer.Buffer, logger ports.Logger, opts ...Option) *Sender {
	s := &Sender{config: config, httpClient: httpClient, breaker: b, buffer: buf, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers a single envelope. If the breaker is open it never
// touches the network, going straight to the buffer.
func (s *Sender) Send(ctx context.Context, envelope domain.Envelope) (Outcome, error) {
	outcome, err := s.send(ctx, envelope)
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
	return outcome, err
}

func (s *Sender) send(ctx context.Context, envelope domain.Envelope) (Outcome, error) {
	if s.breaker.State() == breaker.StateOpen {
		return s.bufferEnvelope(envelope)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return Buffered, fmt.Errorf("sender: marshal envelope: %w", err)
	}

	callErr := s.breaker.Call(func() error {
		return s.post(ctx, body)
	})

	if callErr == nil {
		return Sent, nil
	}

	if errors.Is(callErr, breaker.ErrCircuitOpen) {
		outcome, err := s.bufferEnvelope(envelope)
		return outcome, err
	}

	if s.logger != nil {
		s.logger.Warn("envelope send failed, buffering", ports.Err(callErr),
			ports.String("source", string(envelope.Source())))
	}
	outcome, err := s.bufferEnvelope(envelope)
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// SendBatch iterates Send over envelopes, stopping early (and buffering
// the remainder without a network attempt) the moment the breaker opens
// mid-batch.
func (s *Sender) SendBatch(ctx context.Context, envelopes []domain.Envelope) (sentCount, bufferedCount int, err error) {
	for i, envelope := range envelopes {
		if s.breaker.State() == breaker.StateOpen {
			for _, remaining := range envelopes[i:] {
				if _, bufErr := s.bufferEnvelope(remaining); bufErr != nil {
					return sentCount, bufferedCount, bufErr
				}
				bufferedCount++
			}
			return sentCount, bufferedCount, nil
		}

		outcome, sendErr := s.Send(ctx, envelope)
		if sendErr != nil {
			return sentCount, bufferedCount, sendErr
		}
		if outcome == Sent {
			sentCount++
		} else {
			bufferedCount++
		}
	}
	return sentCount, bufferedCount, nil
}

func (s *Sender) bufferEnvelope(envelope domain.Envelope) (Outcome, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return Buffered, fmt.Errorf("sender: marshal envelope for buffer: %w", err)
	}
	if err := s.buffer.Put(body); err != nil {
		return Buffered, fmt.Errorf("sender: buffer put: %w", err)
	}
	return Buffered, nil
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	ctx, cancel := resilience.DefaultTimeoutConfig().ListenerRequestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.ListenerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sender: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sender: transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sender: listener returned status %d", resp.StatusCode)
	}
	return nil
}

// FlushBuffered attempts to drain up to max entries from the buffer,
// stopping as soon as the breaker opens.
func (s *Sender) FlushBuffered(ctx context.Context, max int) (int, error) {
	flushed := 0
	for i := 0; i < max; i++ {
		if s.breaker.State() != breaker.StateClosed {
			return flushed, nil
		}

		body, err := s.buffer.Get()
		if errors.Is(err, buffer.ErrEmpty) {
			return flushed, nil
		}
		if err != nil {
			return flushed, err
		}

		postErr := s.breaker.Call(func() error {
			return s.post(ctx, body)
		})
		if postErr != nil {
			if requeueErr := s.buffer.Requeue(body); requeueErr != nil {
				return flushed, requeueErr
			}
			return flushed, nil
		}
		flushed++
	}
	return flushed, nil
}
