// Package secrets provides SecretManager backends for fetching the
// agent's database password and listener API key from somewhere other
// than a plaintext environment variable, grounded on the teacher's
// internal/adapters/secrets package (vault_adapter.go,
// aws_secrets_manager.go, local_secret_manager.go).
package secrets

import (
	"context"
	"fmt"
	"os"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
)

// EnvSecretManager reads a secret straight out of an environment
// variable named by path. It's the default backend (BITVILLE_PG_SECRET_MANAGER
// unset or "env"), equivalent to the teacher's "mock"/"local" development
// tiers: no external dependency, nothing to authenticate against.
type EnvSecretManager struct{}

func NewEnvSecretManager() *EnvSecretManager {
	return &EnvSecretManager{}
}

func (e *EnvSecretManager) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	value := os.Getenv(path)
	if value == "" {
		return nil, fmt.Errorf("secrets: environment variable %s is unset or empty", path)
	}
	return &ports.Secret{Value: value, Version: "env"}, nil
}
