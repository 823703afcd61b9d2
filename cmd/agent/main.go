// Command agent is the bitville-postgres-agent daemon: it samples a
// monitored PostgreSQL server, tails its log, and forwards records to a
// remote listener, buffering to disk whenever the listener is unreachable.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/breaker"
	"github.com/bitville/postgres-agent/internal/buffer"
	"github.com/bitville/postgres-agent/internal/config"
	"github.com/bitville/postgres-agent/internal/logtail"
	"github.com/bitville/postgres-agent/internal/pgpool"
	"github.com/bitville/postgres-agent/internal/sampler"
	"github.com/bitville/postgres-agent/internal/scheduler"
	"github.com/bitville/postgres-agent/internal/sender"
	pghttp "github.com/bitville/postgres-agent/pkg/http"
	"github.com/bitville/postgres-agent/pkg/observability"
	"github.com/bitville/postgres-agent/pkg/security"
	"github.com/bitville/postgres-agent/pkg/shutdown"
	"github.com/bitville/postgres-agent/pkg/timeutil"
)

const logPollInterval = 1 * time.Second
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run() error {
	zapLogger, err := security.NewZapLoggerProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger := security.NewZapLogger(zapLogger.Underlying())

	cfg, err := config.LoadFromEnv(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	if err := config.ResolveSecrets(ctx, cfg, logger); err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}

	pool, err := pgpool.Open(ctx, pgpool.Config{
		DSN:              cfg.Database.DSN(),
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}

	buf, err := buffer.Open(cfg.Agent.BufferPath, cfg.Agent.BufferMaxBytes, logger,
		buffer.WithEvictionHook(func(count int) {
			observability.BufferEvictionsTotal.Add(float64(count))
		}),
		buffer.WithSizeHook(func(count int, bytes int64) {
			observability.BufferDepth.Set(float64(count))
			observability.BufferBytes.Set(float64(bytes))
		}),
	)
	if err != nil {
		pool.Close()
		return fmt.Errorf("open buffer: %w", err)
	}

	brk := breaker.New(breaker.DefaultConfig(), logger,
		breaker.WithTransitionHook(func(s breaker.State) {
			observability.BreakerState.Set(float64(s))
		}),
	)

	httpClient := pghttp.NewHTTPClient(pghttp.ListenerClientConfig(), 5*time.Second)

	snd := sender.New(
		sender.Config{ListenerURL: cfg.Listener.URL, APIKey: cfg.Listener.APIKey},
		httpClient, brk, buf, logger,
		sender.WithOutcomeHook(func(o sender.Outcome) {
			observability.EnvelopesTotal.WithLabelValues(o.String()).Inc()
		}),
	)

	tailer := logtail.New(cfg.Agent.LogPath, logPollInterval, logger)

	statements := sampler.NewStatementsSampler(logger)

	sched := scheduler.New(
		scheduler.Config{
			Project:         cfg.Agent.ProjectID,
			TickInterval:    cfg.Agent.CollectionPeriod,
			StatementsLimit: cfg.Agent.StatementsLimit,
		},
		pool, statements, tailer, snd, logger, zapLogger.Underlying(),
		func() float64 { return float64(timeutil.Now().UnixNano()) / 1e9 },
	)
	sched.Start()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsServer := &http.Server{Addr: cfg.Agent.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", ports.Err(err))
		}
	}()

	mgr := shutdown.NewManager(zapLogger.Underlying(), shutdownTimeout)
	mgr.RegisterCloser("buffer", buf)
	mgr.RegisterNoErr("database-pool", pool.Close)
	mgr.RegisterHTTPServer("metrics-server", metricsServer)
	mgr.Register("scheduler", sched.Shutdown)

	logger.Info("agent started",
		ports.String("project", cfg.Agent.ProjectID),
		ports.String("metrics_addr", cfg.Agent.MetricsAddr),
	)

	mgr.WaitForShutdown()
	return nil
}
