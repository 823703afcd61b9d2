package ports

import "context"

// Secret is a single retrieved credential.
type Secret struct {
	Value   string
	Version string
}

// SecretManager retrieves credentials from an external store rather than
// reading them out of a plaintext environment variable. Every backend
// (Vault, AWS Secrets Manager, bare environment) implements GetSecret the
// same way so config loading doesn't care which one is configured.
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
