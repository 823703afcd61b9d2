// Package config loads agent configuration from BITVILLE_PG_* environment
// variables. File-based configuration is out of scope (see spec
// Non-goals); BITVILLE_PG_CONFIG_PATH is recognized but only logged, never
// parsed.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/adapters/secrets"
)

// Secret paths passed to the configured SecretManager. Chosen to mirror
// the teacher's "{service}/{component}/{credential}" path convention
// (e.g. "payment-service/agents/{agent_id}/mac").
const (
	dbPasswordSecretPath = "bitville-postgres-agent/database/password"
	apiKeySecretPath     = "bitville-postgres-agent/listener/api_key"
)

// Config holds all agent configuration, loaded once at startup.
type Config struct {
	Database DatabaseConfig
	Listener ListenerConfig
	Agent    AgentConfig
}

// DatabaseConfig configures the pool's connection to the monitored
// database.
type DatabaseConfig struct {
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	StatementTimeout time.Duration
}

// DSN renders a libpq connection string for pgxpool.ParseConfig.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s",
		d.Host, d.Port, d.Name, d.User, d.Password,
	)
}

// ListenerConfig configures the outbound HTTP sink.
type ListenerConfig struct {
	URL    string
	APIKey string
}

// AgentConfig configures the agent's own behavior: sampling cadence,
// envelope identity, and local filesystem paths.
type AgentConfig struct {
	ProjectID        string
	CollectionPeriod time.Duration
	BufferPath       string
	LogPath          string
	BufferMaxBytes   int64
	StatementsLimit  int
	MetricsAddr      string
}

// LoadFromEnv reads BITVILLE_PG_* variables, applying defaults for unset
// ones (the statement_timeout floor is applied later, by pgpool). It
// returns an error only for configuration that makes startup itself
// unsafe (missing listener URL, API key or project id); everything else
// falls back to a default.
func LoadFromEnv(logger ports.Logger) (*Config, error) {
	if path := getEnv("BITVILLE_PG_CONFIG_PATH", ""); path != "" && logger != nil {
		logger.Info("BITVILLE_PG_CONFIG_PATH set but file-based configuration is unimplemented, using environment only",
			ports.String("path", path))
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:             getEnv("BITVILLE_PG_DB_HOST", "localhost"),
			Port:             getEnvAsInt("BITVILLE_PG_DB_PORT", 5432),
			Name:             getEnv("BITVILLE_PG_DB_NAME", "postgres"),
			User:             getEnv("BITVILLE_PG_DB_USER", "postgres"),
			Password:         getEnv("BITVILLE_PG_DB_PASSWORD", ""),
			StatementTimeout: getEnvAsDurationMillis("BITVILLE_PG_STATEMENT_TIMEOUT_MS", 1000*time.Millisecond),
		},
		Listener: ListenerConfig{
			URL:    getEnv("BITVILLE_PG_LISTENER_URL", ""),
			APIKey: getEnv("BITVILLE_PG_API_KEY", ""),
		},
		Agent: AgentConfig{
			ProjectID:        getEnv("BITVILLE_PG_PROJECT_ID", ""),
			CollectionPeriod: getEnvAsDurationSeconds("BITVILLE_PG_COLLECTION_INTERVAL_S", 60*time.Second),
			BufferPath:       getEnv("BITVILLE_PG_BUFFER_PATH", "/var/lib/bitville-postgres-agent/buffer"),
			LogPath:          getEnv("BITVILLE_PG_LOG_PATH", "/var/log/postgresql/postgresql-main.log"),
			BufferMaxBytes:   getEnvAsInt64("BITVILLE_PG_BUFFER_MAX_BYTES", 100*1024*1024),
			StatementsLimit:  getEnvAsInt("BITVILLE_PG_STATEMENTS_LIMIT", 100),
			MetricsAddr:      getEnv("BITVILLE_PG_METRICS_ADDR", ":9090"),
		},
	}

	if cfg.Listener.URL == "" {
		return nil, fmt.Errorf("config: BITVILLE_PG_LISTENER_URL is required")
	}
	if cfg.Listener.APIKey == "" {
		return nil, fmt.Errorf("config: BITVILLE_PG_API_KEY is required")
	}
	if cfg.Agent.ProjectID == "" {
		return nil, fmt.Errorf("config: BITVILLE_PG_PROJECT_ID is required")
	}

	return cfg, nil
}

// ResolveSecrets overwrites cfg.Database.Password and cfg.Listener.APIKey
// with values fetched from the external secret manager named by
// BITVILLE_PG_SECRET_MANAGER ("vault", "aws", or the default "env", which
// keeps the plaintext BITVILLE_PG_DB_PASSWORD/BITVILLE_PG_API_KEY values
// LoadFromEnv already read). A fetch failure is fatal: a misconfigured
// secret manager must not silently fall back to whatever plaintext value
// happened to be set.
func ResolveSecrets(ctx context.Context, cfg *Config, logger ports.Logger) error {
	backend := getEnv("BITVILLE_PG_SECRET_MANAGER", "env")

	manager, err := buildSecretManager(ctx, backend)
	if err != nil {
		return fmt.Errorf("config: build secret manager: %w", err)
	}

	if backend == "env" {
		// EnvSecretManager reads a named environment variable, not the
		// domain-specific paths below; LoadFromEnv already populated the
		// password/API key fields directly, so there's nothing more to do.
		return nil
	}

	dbSecret, err := manager.GetSecret(ctx, dbPasswordSecretPath)
	if err != nil {
		return fmt.Errorf("config: fetch database password: %w", err)
	}
	cfg.Database.Password = dbSecret.Value

	apiKeySecret, err := manager.GetSecret(ctx, apiKeySecretPath)
	if err != nil {
		return fmt.Errorf("config: fetch listener api key: %w", err)
	}
	cfg.Listener.APIKey = apiKeySecret.Value

	if logger != nil {
		logger.Info("secrets resolved from external secret manager",
			ports.String("backend", backend))
	}
	return nil
}

func buildSecretManager(ctx context.Context, backend string) (ports.SecretManager, error) {
	switch backend {
	case "env":
		return secrets.NewEnvSecretManager(), nil

	case "vault":
		address := getEnv("BITVILLE_PG_VAULT_ADDR", "")
		token := getEnv("BITVILLE_PG_VAULT_TOKEN", "")
		if address == "" || token == "" {
			return nil, fmt.Errorf("BITVILLE_PG_VAULT_ADDR and BITVILLE_PG_VAULT_TOKEN are required when BITVILLE_PG_SECRET_MANAGER=vault")
		}
		cfg := secrets.DefaultVaultConfig(address, token)
		if mount := getEnv("BITVILLE_PG_VAULT_MOUNT_PATH", ""); mount != "" {
			cfg.MountPath = mount
		}
		return secrets.NewVaultSecretManager(cfg)

	case "aws":
		region := getEnv("BITVILLE_PG_AWS_REGION", "")
		if region == "" {
			return nil, fmt.Errorf("BITVILLE_PG_AWS_REGION is required when BITVILLE_PG_SECRET_MANAGER=aws")
		}
		return secrets.NewAWSSecretManager(ctx, region)

	default:
		return nil, fmt.Errorf("unknown BITVILLE_PG_SECRET_MANAGER value %q (want env, vault, or aws)", backend)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDurationMillis(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvAsInt(key, -1)
	if ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvAsDurationSeconds(key string, defaultValue time.Duration) time.Duration {
	s := getEnvAsInt(key, -1)
	if s < 0 {
		return defaultValue
	}
	return time.Duration(s) * time.Second
}
