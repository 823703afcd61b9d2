// Package scheduler drives the agent's cooperative tasks: a periodic
// collection tick that samples the database and host, and a continuous
// log pump that batches tailed log entries, fed by the log tailer, which
// runs as a third task.
package scheduler

import (
	"context"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/bitville/postgres-agent/internal/envelope"
	"github.com/bitville/postgres-agent/internal/logtail"
	"github.com/bitville/postgres-agent/internal/sampler"
	"github.com/bitville/postgres-agent/internal/sender"
	"github.com/bitville/postgres-agent/pkg/observability"
	"github.com/bitville/postgres-agent/pkg/shutdown"
	"go.uber.org/zap"
)

// logBatchMax bounds the log pump's in-memory batch.
const logBatchMax = 500

// flushBatchMax bounds how many buffered envelopes a single tick drains.
const flushBatchMax = 50

// Config configures both cooperative tasks.
type Config struct {
	Project         string
	TickInterval    time.Duration
	StatementsLimit int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.StatementsLimit <= 0 {
		c.StatementsLimit = 100
	}
	return c
}

// Scheduler owns the collection-tick and log-pump tasks, built on
// pkg/shutdown's worker primitives.
type Scheduler struct {
	config     Config
	pool       sampler.Querier
	statements *sampler.StatementsSampler
	tailer     *logtail.Tailer
	sender     *sender.Sender
	logger     ports.Logger
	clock      envelope.Clock

	collectionWorker *shutdown.PeriodicWorker
	tailerWorker     *shutdown.BackgroundWorker
	logPumpWorker    *shutdown.BackgroundWorker
}

// New wires a Scheduler. zapLogger drives the underlying worker
// goroutines' own lifecycle logging; logger is the domain-facing seam
// used for sampler and send outcomes.
func New(
	config Config,
	pool sampler.Querier,
	statements *sampler.StatementsSampler,
	tailer *logtail.Tailer,
	snd *sender.Sender,
	logger ports.Logger,
	zapLogger *zap.Logger,
	clock envelope.Clock,
) *Scheduler {
	return &Scheduler{
		config:           config.withDefaults(),
		pool:             pool,
		statements:       statements,
		tailer:           tailer,
		sender:           snd,
		logger:           logger,
		clock:            clock,
		collectionWorker: shutdown.NewPeriodicWorker("collection-tick", config.withDefaults().TickInterval, zapLogger),
		tailerWorker:     shutdown.NewBackgroundWorker("log-tailer", zapLogger),
		logPumpWorker:    shutdown.NewBackgroundWorker("log-pump", zapLogger),
	}
}

// Start launches all three cooperative tasks. It does not block.
func (s *Scheduler) Start() {
	s.collectionWorker.Start(s.tick)
	s.tailerWorker.Start(func(ctx context.Context) {
		if err := s.tailer.Run(ctx); err != nil && s.logger != nil {
			s.logger.Error("log tailer exited", ports.Err(err))
		}
	})
	s.logPumpWorker.Start(s.pumpLogs)
}

// Shutdown stops the tailer first so its records channel closes, which
// lets the log pump drain and flush its residual batch before this
// returns. The collection tick stops last.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if err := s.tailerWorker.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.logPumpWorker.Shutdown(ctx); err != nil {
		return err
	}
	return s.collectionWorker.Shutdown(ctx)
}

// tick runs one collection cycle: sample, build envelopes, send, then
// opportunistically flush buffered backlog. A failure in any single
// sampler is logged and degrades to an empty result; it never aborts
// the tick.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() { observability.TickDuration.Observe(time.Since(start).Seconds()) }()

	var envelopes []domain.Envelope

	activity, nonEmpty, err := sampler.ActiveSessions(ctx, s.pool)
	if err != nil {
		observability.SamplerFailuresTotal.WithLabelValues(string(domain.SourcePgStatActivity)).Inc()
		if s.logger != nil {
			s.logger.Error("active session sampler failed, database may be unreachable", ports.Err(err))
		}
	} else if nonEmpty {
		envelopes = append(envelopes, envelope.Build(s.clock, activity, s.config.Project))
	}

	statements, nonEmpty := s.statements.Sample(ctx, s.pool, s.config.StatementsLimit)
	if nonEmpty {
		envelopes = append(envelopes, envelope.Build(s.clock, statements, s.config.Project))
	}

	locks := sampler.BlockingLocks(ctx, s.pool, s.logger)
	envelopes = append(envelopes, envelope.Build(s.clock, locks, s.config.Project))

	host := sampler.HostMetrics(s.logger)
	envelopes = append(envelopes, envelope.Build(s.clock, host, s.config.Project))

	sent, buffered, err := s.sender.SendBatch(ctx, envelopes)
	if err != nil && s.logger != nil {
		s.logger.Error("collection tick send failed", ports.Err(err))
	}
	if s.logger != nil {
		s.logger.Debug("collection tick complete",
			ports.Int("sent", sent), ports.Int("buffered", buffered))
	}

	flushed, err := s.sender.FlushBuffered(ctx, flushBatchMax)
	if err != nil && s.logger != nil {
		s.logger.Warn("buffer flush failed", ports.Err(err))
	}
	if flushed > 0 && s.logger != nil {
		s.logger.Info("flushed buffered envelopes", ports.Int("count", flushed))
	}
}

// pumpLogs continuously drains the tailer into a bounded batch, flushing
// on full, on a correlation-id fast path, or when the tailer's channel
// closes at shutdown.
func (s *Scheduler) pumpLogs(ctx context.Context) {
	batch := make([]any, 0, logBatchMax)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		record := domain.Record{Source: domain.SourcePgLog, Data: map[string]any{"entries": batch}}
		env := envelope.Build(s.clock, record, s.config.Project)
		if _, err := s.sender.Send(ctx, env); err != nil && s.logger != nil {
			s.logger.Warn("log batch send failed", ports.Err(err))
		}
		batch = make([]any, 0, logBatchMax)
	}

	for {
		select {
		case record, ok := <-s.tailer.Records():
			if !ok {
				flush()
				return
			}
			batch = append(batch, record.Data)
			if record.CorrelationID != nil {
				flush()
				continue
			}
			if len(batch) >= logBatchMax {
				flush()
			}
		case <-ctx.Done():
			flush()
			return
		}
	}
}
