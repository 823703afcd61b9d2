package secrets

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
)

// VaultConfig configures the Vault-backed SecretManager. Only token
// authentication against a KV v2 mount is supported — the monitoring
// agent runs as one long-lived process reading two credentials at
// startup, not the multi-tenant AppRole/Kubernetes login flows the
// teacher's payment service needs for its own Vault adapter.
type VaultConfig struct {
	Address   string
	Token     string
	MountPath string
}

// DefaultVaultConfig returns a Vault configuration with the standard KV
// v2 mount path.
func DefaultVaultConfig(address, token string) VaultConfig {
	return VaultConfig{Address: address, Token: token, MountPath: "secret"}
}

// VaultSecretManager fetches secrets from a HashiCorp Vault KV v2 mount.
type VaultSecretManager struct {
	client    *vault.Client
	mountPath string
}

// NewVaultSecretManager builds a Vault client that sends the given token
// with every request. No request is made here; a bad token surfaces on
// the first GetSecret.
func NewVaultSecretManager(cfg VaultConfig) (*VaultSecretManager, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("secrets: vault token is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}

	return &VaultSecretManager{client: client, mountPath: mountPath}, nil
}

// GetSecret reads path from the configured KV v2 mount, expecting the
// secret's payload to carry the credential under a "value" key —
// matching the teacher's vault_adapter.go convention.
func (v *VaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	fullPath := fmt.Sprintf("%s/data/%s", v.mountPath, path)

	secret, err := v.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s from vault: %w", path, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secrets: vault secret not found: %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secrets: unexpected vault secret format at %s", path)
	}

	value, ok := data["value"].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("secrets: vault secret %s has no string \"value\" field", path)
	}

	version := "1"
	if metadata, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if v, ok := metadata["version"].(string); ok {
			version = v
		}
	}

	return &ports.Secret{Value: value, Version: version}, nil
}
