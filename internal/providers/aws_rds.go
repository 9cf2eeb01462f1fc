package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/systmms/dbrotate/pkg/rotation"
)

// RDSClientAPI is the subset of the RDS client used to reset cluster passwords
type RDSClientAPI interface {
	ModifyDBCluster(ctx context.Context, params *rds.ModifyDBClusterInput, optFns ...func(*rds.Options)) (*rds.ModifyDBClusterOutput, error)
}

// RDSClusterPasswordChanger resets the master password of an Aurora cluster
type RDSClusterPasswordChanger struct {
	client RDSClientAPI
}

// RDSOption configures an RDSClusterPasswordChanger
type RDSOption func(*RDSClusterPasswordChanger)

// WithRDSClient replaces the SDK client, for tests
func WithRDSClient(client RDSClientAPI) RDSOption {
	return func(r *RDSClusterPasswordChanger) {
		r.client = client
	}
}

var _ rotation.ClusterPasswordChanger = (*RDSClusterPasswordChanger)(nil)

// NewRDSClusterPasswordChanger creates the changer from the shared AWS config
func NewRDSClusterPasswordChanger(cfg aws.Config, opts ...RDSOption) *RDSClusterPasswordChanger {
	r := &RDSClusterPasswordChanger{}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = rds.NewFromConfig(cfg)
	}
	return r
}

// SetClusterPassword applies the new master password immediately. The change
// is asynchronous on the service side; callers wait before testing it.
func (r *RDSClusterPasswordChanger) SetClusterPassword(ctx context.Context, clusterID, password string) error {
	_, err := r.client.ModifyDBCluster(ctx, &rds.ModifyDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
		MasterUserPassword:  aws.String(password),
		ApplyImmediately:    aws.Bool(true),
	})
	if err == nil {
		return nil
	}

	var notFound *rdstypes.DBClusterNotFoundFault
	if errors.As(err, &notFound) {
		return fmt.Errorf("cluster %s does not exist: %w", clusterID, err)
	}
	var invalidState *rdstypes.InvalidDBClusterStateFault
	if errors.As(err, &invalidState) {
		return fmt.Errorf("cluster %s cannot be modified in its current state: %w", clusterID, err)
	}
	return fmt.Errorf("ModifyDBCluster failed for %s: %w", clusterID, err)
}
