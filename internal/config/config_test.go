package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BITVILLE_PG_CONFIG_PATH", "BITVILLE_PG_DB_HOST", "BITVILLE_PG_DB_PORT",
		"BITVILLE_PG_DB_NAME", "BITVILLE_PG_DB_USER", "BITVILLE_PG_DB_PASSWORD",
		"BITVILLE_PG_STATEMENT_TIMEOUT_MS", "BITVILLE_PG_COLLECTION_INTERVAL_S",
		"BITVILLE_PG_LISTENER_URL", "BITVILLE_PG_API_KEY", "BITVILLE_PG_PROJECT_ID",
		"BITVILLE_PG_BUFFER_PATH", "BITVILLE_PG_LOG_PATH",
		"BITVILLE_PG_BUFFER_MAX_BYTES", "BITVILLE_PG_STATEMENTS_LIMIT", "BITVILLE_PG_METRICS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_MissingListenerURLFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITVILLE_PG_API_KEY", "key")
	t.Setenv("BITVILLE_PG_PROJECT_ID", "acme")

	_, err := LoadFromEnv(nil)
	assert.Error(t, err)
}

func TestLoadFromEnv_MissingAPIKeyFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITVILLE_PG_LISTENER_URL", "https://listener.example/ingest")
	t.Setenv("BITVILLE_PG_PROJECT_ID", "acme")

	_, err := LoadFromEnv(nil)
	assert.Error(t, err)
}

func TestLoadFromEnv_DefaultsAppliedWhenUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITVILLE_PG_LISTENER_URL", "https://listener.example/ingest")
	t.Setenv("BITVILLE_PG_API_KEY", "key")
	t.Setenv("BITVILLE_PG_PROJECT_ID", "acme")

	cfg, err := LoadFromEnv(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 1000*time.Millisecond, cfg.Database.StatementTimeout)
	assert.Equal(t, 60*time.Second, cfg.Agent.CollectionPeriod)
	assert.Equal(t, "/var/lib/bitville-postgres-agent/buffer", cfg.Agent.BufferPath)
	assert.Equal(t, "/var/log/postgresql/postgresql-main.log", cfg.Agent.LogPath)
	assert.Equal(t, int64(100*1024*1024), cfg.Agent.BufferMaxBytes)
	assert.Equal(t, 100, cfg.Agent.StatementsLimit)
	assert.Equal(t, ":9090", cfg.Agent.MetricsAddr)
}

func TestLoadFromEnv_OverridesRespected(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITVILLE_PG_LISTENER_URL", "https://listener.example/ingest")
	t.Setenv("BITVILLE_PG_API_KEY", "key")
	t.Setenv("BITVILLE_PG_PROJECT_ID", "acme")
	t.Setenv("BITVILLE_PG_DB_HOST", "db.internal")
	t.Setenv("BITVILLE_PG_STATEMENT_TIMEOUT_MS", "5000")
	t.Setenv("BITVILLE_PG_COLLECTION_INTERVAL_S", "30")

	cfg, err := LoadFromEnv(nil)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, 30*time.Second, cfg.Agent.CollectionPeriod)
}
