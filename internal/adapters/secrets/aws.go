package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
)

// AWSSecretManager fetches secrets from AWS Secrets Manager, grounded on
// the teacher's aws_secrets_manager.go adapter.
type AWSSecretManager struct {
	client *secretsmanager.Client
}

// NewAWSSecretManager loads the default AWS credential chain (IAM role
// in production, shared config locally) scoped to region.
func NewAWSSecretManager(ctx context.Context, region string) (*AWSSecretManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return &AWSSecretManager{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// GetSecret retrieves the named secret's plaintext string value.
func (a *AWSSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: get secret %s from aws: %w", path, err)
	}

	value := aws.ToString(out.SecretString)
	if value == "" {
		return nil, fmt.Errorf("secrets: aws secret %s has no string value", path)
	}

	return &ports.Secret{Value: value, Version: aws.ToString(out.VersionId)}, nil
}
