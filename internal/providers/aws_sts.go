package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// STSClientAPI is the subset of the STS client used for preflight checks
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the principal the rotation runs as
type Identity struct {
	Account string `json:"account" yaml:"account"`
	ARN     string `json:"arn" yaml:"arn"`
	UserID  string `json:"user_id" yaml:"user_id"`
}

// NewSTSClient creates an STS client from the shared AWS config
func NewSTSClient(cfg aws.Config) *sts.Client {
	return sts.NewFromConfig(cfg)
}

// CallerIdentity returns the identity the configured credentials resolve to
func CallerIdentity(ctx context.Context, client STSClientAPI) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if IsAccessDenied(err) || ErrorCode(err) == "InvalidClientTokenId" || ErrorCode(err) == "ExpiredToken" {
			return Identity{}, dberrors.ConfigError{
				Field:      "aws",
				Message:    fmt.Sprintf("AWS credentials were rejected: %v", err),
				Suggestion: "Check AWS_PROFILE, the credential chain, and aws.assume_role_arn",
			}
		}
		return Identity{}, fmt.Errorf("GetCallerIdentity failed: %w", err)
	}

	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
