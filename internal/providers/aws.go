// Package providers adapts AWS services to the interfaces the rotation engine
// consumes: the versioned secret store, the password generator, the cluster
// password change and the caller identity used by preflight checks.
//
// Every adapter takes its SDK client through an interface so tests can inject
// the fakes in tests/fakes.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// AWSOptions selects how the SDK configuration is built
type AWSOptions struct {
	Region string
	// Endpoint overrides every service endpoint, for LocalStack
	Endpoint string
	// Profile selects a shared config profile
	Profile string
	// AssumeRoleARN, when set, makes every call with credentials from
	// sts:AssumeRole on this role
	AssumeRoleARN string
	// Credentials replaces the default credential chain
	Credentials aws.CredentialsProvider
}

// RoleSessionName is used when assuming AssumeRoleARN
const RoleSessionName = "dbrotate"

// LoadAWSConfig loads the shared SDK configuration
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(opts.Credentials))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if opts.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(opts.Endpoint)
	}

	if opts.AssumeRoleARN != "" {
		assumer := sts.NewFromConfig(cfg)
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(assumer, opts.AssumeRoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = RoleSessionName
			}))
	}
	return cfg, nil
}

// ErrorCode returns the AWS error code carried by err, or ""
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsAccessDenied reports whether AWS rejected the call for lack of permissions
func IsAccessDenied(err error) bool {
	switch ErrorCode(err) {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "UnrecognizedClientException":
		return true
	}
	return false
}
