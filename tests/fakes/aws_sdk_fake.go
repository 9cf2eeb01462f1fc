package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SecretVersion is one stored version of a fake secret
type SecretVersion struct {
	SecretString string
	Stages       []string
}

// FakeSecretsManagerClient mimics the staging behaviour of AWS Secrets Manager
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret ids to their versions, keyed by version id
	Secrets map[string]map[string]*SecretVersion
	// Errors maps secret ids to errors returned by every call
	Errors map[string]error
	// RandomPassword is returned by GetRandomPassword; a counter suffix is added
	RandomPassword string

	GetSecretValueFunc   func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	GetRandomPasswordErr error

	// Calls records the operation names in order
	Calls           []string
	PasswordInputs  []*secretsmanager.GetRandomPasswordInput
	passwordCounter int
}

// NewFakeSecretsManagerClient creates an empty fake client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:        make(map[string]map[string]*SecretVersion),
		Errors:         make(map[string]error),
		RandomPassword: "Rand0m!",
	}
}

// AddSecretString stores value as the AWSCURRENT version of name
func (f *FakeSecretsManagerClient) AddSecretString(name, versionID, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Secrets[name] == nil {
		f.Secrets[name] = make(map[string]*SecretVersion)
	}
	f.Secrets[name][versionID] = &SecretVersion{SecretString: value, Stages: []string{"AWSCURRENT"}}
}

// AddError configures the fake to fail every call for name
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// Stages returns the stage labels of every version of name
func (f *FakeSecretsManagerClient) Stages(name string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string)
	for id, v := range f.Secrets[name] {
		out[id] = append([]string(nil), v.Stages...)
	}
	return out
}

func notFound(format string, args ...interface{}) error {
	return &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf(format, args...))}
}

func (f *FakeSecretsManagerClient) lookup(op string, params *string) (string, map[string]*SecretVersion, error) {
	name := aws.ToString(params)
	f.Calls = append(f.Calls, op)
	if err, ok := f.Errors[name]; ok {
		return name, nil, err
	}
	versions, ok := f.Secrets[name]
	if !ok {
		return name, nil, notFound("Secrets Manager can't find the specified secret: %s", name)
	}
	return name, versions, nil
}

func hasStage(stages []string, stage string) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

func withoutStage(stages []string, stage string) []string {
	out := stages[:0]
	for _, s := range stages {
		if s != stage {
			out = append(out, s)
		}
	}
	return out
}

// GetSecretValue resolves the version by id and/or stage, defaulting to AWSCURRENT
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name, versions, err := f.lookup("GetSecretValue", params.SecretId)
	if err != nil {
		return nil, err
	}

	stage := aws.ToString(params.VersionStage)
	versionID := aws.ToString(params.VersionId)
	if stage == "" && versionID == "" {
		stage = "AWSCURRENT"
	}

	ids := make([]string, 0, len(versions))
	for id := range versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		v := versions[id]
		if versionID != "" && id != versionID {
			continue
		}
		if stage != "" && !hasStage(v.Stages, stage) {
			continue
		}
		return &secretsmanager.GetSecretValueOutput{
			Name:          aws.String(name),
			SecretString:  aws.String(v.SecretString),
			VersionId:     aws.String(id),
			VersionStages: append([]string(nil), v.Stages...),
		}, nil
	}
	return nil, notFound("Secrets Manager can't find the specified secret value for VersionId: %s, VersionStage: %s", versionID, stage)
}

// PutSecretValue stores a version under ClientRequestToken and moves the
// requested stages onto it
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, versions, err := f.lookup("PutSecretValue", params.SecretId)
	if err != nil {
		return nil, err
	}
	token := aws.ToString(params.ClientRequestToken)
	value := aws.ToString(params.SecretString)

	if existing, ok := versions[token]; ok {
		if existing.SecretString != value {
			return nil, &types.ResourceExistsException{Message: aws.String("a version with this token already exists with different content")}
		}
		return &secretsmanager.PutSecretValueOutput{Name: aws.String(name), VersionId: aws.String(token)}, nil
	}

	stages := params.VersionStages
	if len(stages) == 0 {
		stages = []string{"AWSCURRENT"}
	}
	for _, stage := range stages {
		for _, v := range versions {
			v.Stages = withoutStage(v.Stages, stage)
		}
	}
	versions[token] = &SecretVersion{SecretString: value, Stages: append([]string(nil), stages...)}
	return &secretsmanager.PutSecretValueOutput{
		Name:          aws.String(name),
		VersionId:     aws.String(token),
		VersionStages: stages,
	}, nil
}

// DescribeSecret returns the version to stage map
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, versions, err := f.lookup("DescribeSecret", params.SecretId)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(versions))
	for id, v := range versions {
		if len(v.Stages) > 0 {
			out[id] = append([]string(nil), v.Stages...)
		}
	}
	return &secretsmanager.DescribeSecretOutput{Name: aws.String(name), VersionIdsToStages: out}, nil
}

// UpdateSecretVersionStage moves a stage label. Moving AWSCURRENT labels the
// previous holder AWSPREVIOUS, as the service does.
func (f *FakeSecretsManagerClient) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, versions, err := f.lookup("UpdateSecretVersionStage", params.SecretId)
	if err != nil {
		return nil, err
	}
	stage := aws.ToString(params.VersionStage)
	to := aws.ToString(params.MoveToVersionId)
	from := aws.ToString(params.RemoveFromVersionId)

	for id, v := range versions {
		if hasStage(v.Stages, stage) && id != to && id != from {
			return nil, &types.InvalidParameterException{
				Message: aws.String(fmt.Sprintf("stage %s is attached to version %s, not %s", stage, id, from)),
			}
		}
	}
	target, ok := versions[to]
	if !ok {
		return nil, notFound("version %s not found", to)
	}

	if prev, ok := versions[from]; ok && from != to {
		prev.Stages = withoutStage(prev.Stages, stage)
		if stage == "AWSCURRENT" {
			for _, v := range versions {
				v.Stages = withoutStage(v.Stages, "AWSPREVIOUS")
			}
			prev.Stages = append(prev.Stages, "AWSPREVIOUS")
		}
	}
	if !hasStage(target.Stages, stage) {
		target.Stages = append(target.Stages, stage)
	}
	return &secretsmanager.UpdateSecretVersionStageOutput{Name: aws.String(name)}, nil
}

// GetRandomPassword returns RandomPassword with a per-call counter
func (f *FakeSecretsManagerClient) GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, "GetRandomPassword")
	f.PasswordInputs = append(f.PasswordInputs, params)
	if f.GetRandomPasswordErr != nil {
		return nil, f.GetRandomPasswordErr
	}
	f.passwordCounter++
	return &secretsmanager.GetRandomPasswordOutput{
		RandomPassword: aws.String(fmt.Sprintf("%s%d", f.RandomPassword, f.passwordCounter)),
	}, nil
}

// FakeRDSClient records ModifyDBCluster calls
type FakeRDSClient struct {
	// Clusters lists the known cluster identifiers
	Clusters map[string]bool
	Err      error
	Inputs   []*rds.ModifyDBClusterInput
}

// ModifyDBCluster fails with DBClusterNotFoundFault for unknown clusters
func (f *FakeRDSClient) ModifyDBCluster(ctx context.Context, params *rds.ModifyDBClusterInput, optFns ...func(*rds.Options)) (*rds.ModifyDBClusterOutput, error) {
	f.Inputs = append(f.Inputs, params)
	if f.Err != nil {
		return nil, f.Err
	}
	id := aws.ToString(params.DBClusterIdentifier)
	if !f.Clusters[id] {
		return nil, &rdstypes.DBClusterNotFoundFault{Message: aws.String(fmt.Sprintf("DBCluster %s not found.", id))}
	}
	return &rds.ModifyDBClusterOutput{
		DBCluster: &rdstypes.DBCluster{DBClusterIdentifier: aws.String(id), Status: aws.String("resetting-master-credentials")},
	}, nil
}

// FakeSTSClient returns a fixed caller identity
type FakeSTSClient struct {
	Account string
	ARN     string
	UserID  string
	Err     error
}

// GetCallerIdentity returns the configured identity
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.ARN),
		UserId:  aws.String(f.UserID),
	}, nil
}
