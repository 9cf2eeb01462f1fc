package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used by
// the store. It enables injection of fakes in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error)
}

// SecretsManagerStore is the versioned secret store backed by AWS Secrets
// Manager. It also generates passwords through GetRandomPassword.
type SecretsManagerStore struct {
	client SecretsManagerClientAPI
}

// SecretsManagerOption configures a SecretsManagerStore
type SecretsManagerOption func(*SecretsManagerStore)

// WithSecretsManagerClient replaces the SDK client, for tests
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerStore) {
		s.client = client
	}
}

var (
	_ secretstore.Store          = (*SecretsManagerStore)(nil)
	_ rotation.PasswordGenerator = (*SecretsManagerStore)(nil)
)

// NewSecretsManagerStore creates a store from the shared AWS config
func NewSecretsManagerStore(cfg aws.Config, opts ...SecretsManagerOption) *SecretsManagerStore {
	s := &SecretsManagerStore{}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = secretsmanager.NewFromConfig(cfg)
	}
	return s
}

// Get reads the version labeled stage, optionally pinned to versionID
func (s *SecretsManagerStore) Get(ctx context.Context, secretID string, stage secretstore.Stage, versionID string) (secretstore.Lookup, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(string(stage)),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		if isNotFoundError(err) {
			return secretstore.NotFound(), nil
		}
		return secretstore.Lookup{}, wrapStoreError("get", secretID, err)
	}
	if out.SecretString == nil {
		return secretstore.Lookup{}, dberrors.ConfigError{
			Field:      "SecretString",
			Value:      secretID,
			Message:    "secret has no string value",
			Suggestion: "Rotated secrets must hold a JSON object in SecretString",
		}
	}

	payload, err := secretstore.DecodePayload(*out.SecretString)
	if err != nil {
		return secretstore.Lookup{}, dberrors.ConfigError{
			Field:   "SecretString",
			Value:   secretID,
			Message: err.Error(),
		}
	}
	return secretstore.Found(payload, aws.ToString(out.VersionId)), nil
}

// Put writes payload as the version identified by token
func (s *SecretsManagerStore) Put(ctx context.Context, secretID, token string, payload secretstore.Payload, stage secretstore.Stage) error {
	body, err := payload.Encode()
	if err != nil {
		return err
	}

	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretID),
		ClientRequestToken: aws.String(token),
		SecretString:       aws.String(body),
		VersionStages:      []string{string(stage)},
	})
	if err != nil {
		return wrapStoreError("put", secretID, err)
	}
	return nil
}

// DescribeStages returns the stage labels held by each version
func (s *SecretsManagerStore) DescribeStages(ctx context.Context, secretID string) (map[string][]secretstore.Stage, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, wrapStoreError("describe", secretID, err)
	}

	stages := make(map[string][]secretstore.Stage, len(out.VersionIdsToStages))
	for id, labels := range out.VersionIdsToStages {
		for _, label := range labels {
			stages[id] = append(stages[id], secretstore.Stage(label))
		}
	}
	return stages, nil
}

// MoveStage moves stage onto toVersion, removing it from fromVersion
func (s *SecretsManagerStore) MoveStage(ctx context.Context, secretID string, stage secretstore.Stage, toVersion, fromVersion string) error {
	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(secretID),
		VersionStage:    aws.String(string(stage)),
		MoveToVersionId: aws.String(toVersion),
	}
	if fromVersion != "" {
		input.RemoveFromVersionId = aws.String(fromVersion)
	}

	if _, err := s.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return wrapStoreError("move stage", secretID, err)
	}
	return nil
}

// GeneratePassword asks the service for a password with every character class
func (s *SecretsManagerStore) GeneratePassword(ctx context.Context, policy rotation.PasswordPolicy) (string, error) {
	input := &secretsmanager.GetRandomPasswordInput{
		IncludeSpace:            aws.Bool(false),
		RequireEachIncludedType: aws.Bool(true),
	}
	if policy.Length > 0 {
		input.PasswordLength = aws.Int64(int64(policy.Length))
	}
	if policy.ExcludeCharacters != "" {
		input.ExcludeCharacters = aws.String(policy.ExcludeCharacters)
	}

	out, err := s.client.GetRandomPassword(ctx, input)
	if err != nil {
		return "", fmt.Errorf("GetRandomPassword failed: %w", err)
	}
	return aws.ToString(out.RandomPassword), nil
}

func isNotFoundError(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}

func wrapStoreError(op, secretID string, err error) error {
	if IsAccessDenied(err) {
		op += " (access denied)"
	}
	return &dberrors.StoreError{Op: op, SecretID: secretID, Err: err}
}
