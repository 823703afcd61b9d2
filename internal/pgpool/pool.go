// Package pgpool wraps a pgx connection pool configured so the agent can
// never impose unbounded load on the monitored database.
package pgpool

import (
	"context"
	"fmt"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/pkg/resilience"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxConns is a hard ceiling. No configuration can raise it; requests
// above it are silently clamped and logged.
const maxConns = 5

// minStatementTimeout is the floor below which a configured
// statement_timeout is coerced upward.
const minStatementTimeout = 1000 * time.Millisecond

const applicationName = "bitville-monitor"

// Config configures the pool. Zero values fall back to defaults applied
// by Open.
type Config struct {
	DSN               string
	MaxConns          int32
	AcquireTimeout    time.Duration
	StatementTimeout  time.Duration
}

func (c Config) withDefaults(logger ports.Logger) Config {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.StatementTimeout < minStatementTimeout {
		if c.StatementTimeout != 0 && logger != nil {
			logger.Warn("statement_timeout below floor, coercing",
				ports.String("configured", c.StatementTimeout.String()),
				ports.String("floor", minStatementTimeout.String()))
		}
		c.StatementTimeout = minStatementTimeout
	}
	if c.MaxConns <= 0 {
		c.MaxConns = maxConns
	}
	if c.MaxConns > maxConns {
		if logger != nil {
			logger.Warn("pool_max_size above hard cap, clamping",
				ports.Int("configured", int(c.MaxConns)),
				ports.Int("cap", maxConns))
		}
		c.MaxConns = maxConns
	}
	return c
}

// Pool is an acquire/close session source backed by pgxpool, hard-capped
// at maxConns live connections.
type Pool struct {
	pool   *pgxpool.Pool
	config Config
	logger ports.Logger
}

// Open parses the DSN, applies the hard caps, connects, and verifies the
// connection with SELECT 1 before returning.
func Open(ctx context.Context, cfg Config, logger ports.Logger) (*Pool, error) {
	cfg = cfg.withDefaults(logger)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgpool: parse dsn: invalid connection parameters")
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	statementTimeoutMs := fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %s", statementTimeoutMs))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgpool: create pool: %w", err)
	}

	var ok int
	timeouts := &resilience.TimeoutConfig{PoolAcquire: cfg.AcquireTimeout}
	acquireCtx, cancel := timeouts.PoolAcquireContext(ctx)
	defer cancel()
	row := pool.QueryRow(acquireCtx, "SELECT 1")
	if err := row.Scan(&ok); err != nil || ok != 1 {
		pool.Close()
		return nil, fmt.Errorf("pgpool: startup check failed: %w", err)
	}

	if logger != nil {
		logger.Info("pgpool opened",
			ports.Int("max_conns", int(cfg.MaxConns)),
			ports.String("statement_timeout", cfg.StatementTimeout.String()),
		)
	}

	return &Pool{pool: pool, config: cfg, logger: logger}, nil
}

// Acquire reserves a connection, bounded by the pool's acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	timeouts := &resilience.TimeoutConfig{PoolAcquire: p.config.AcquireTimeout}
	ctx, cancel := timeouts.PoolAcquireContext(ctx)
	defer cancel()
	return p.pool.Acquire(ctx)
}

// Query runs query against a pooled connection. The connection-acquire
// wait is bounded by the pool's acquire timeout, same as Open's startup
// check; execution past that point is bounded server-side by the
// session's statement_timeout.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	timeouts := &resilience.TimeoutConfig{PoolAcquire: p.config.AcquireTimeout}
	ctx, cancel := timeouts.PoolAcquireContext(ctx)
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Release()
		cancel()
		return nil, err
	}
	return releasingRows{Rows: rows, release: conn.Release, cancel: cancel}, nil
}

// releasingRows ties a pgx.Rows result to the pooled connection and
// acquire-timeout cancel func it was issued under, releasing both once
// the caller is done iterating.
type releasingRows struct {
	pgx.Rows
	release func()
	cancel  context.CancelFunc
}

func (r releasingRows) Close() {
	r.Rows.Close()
	r.release()
	r.cancel()
}

// Stat exposes live pool utilization for self-monitoring.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Close releases the pool's connections.
func (p *Pool) Close() {
	p.pool.Close()
}
