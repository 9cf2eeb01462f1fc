package rotation

import (
	"context"
	"fmt"
	"time"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/internal/retry"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// Strategy names
const (
	StrategyMultiUser  = "multi-user"
	StrategySingleUser = "single-user"
)

// Strategy is the part of a rotation that differs between multi-user and
// single-user rotation.
type Strategy interface {
	// Name identifies the strategy in logs and metrics
	Name() string
	// NewSecretValue derives the pending payload from the current one
	NewSecretValue(ctx context.Context, current secretstore.Payload) (secretstore.Payload, error)
	// SetSecret makes the pending credential usable in the database
	SetSecret(ctx context.Context, current, pending secretstore.Payload) error
}

// MultiUserStrategy alternates between two application users
type MultiUserStrategy struct {
	FirstUser   string
	SecondUser  string
	Generator   PasswordGenerator
	Policy      PasswordPolicy
	Provisioner *Provisioner
}

func (s *MultiUserStrategy) Name() string { return StrategyMultiUser }

func (s *MultiUserStrategy) NewSecretValue(ctx context.Context, current secretstore.Payload) (secretstore.Payload, error) {
	return DeriveMultiUser(ctx, current, s.FirstUser, s.SecondUser, s.Generator, s.Policy)
}

func (s *MultiUserStrategy) SetSecret(ctx context.Context, current, pending secretstore.Payload) error {
	return s.Provisioner.Provision(ctx, current, pending)
}

// ClusterPasswordChanger changes the master password of a database cluster
type ClusterPasswordChanger interface {
	SetClusterPassword(ctx context.Context, clusterID, password string) error
}

// SingleUserStrategy rotates one user in place through the cluster API
type SingleUserStrategy struct {
	Generator       PasswordGenerator
	Policy          PasswordPolicy
	Cluster         ClusterPasswordChanger
	PropagationWait time.Duration
	Logger          *logging.Logger
}

func (s *SingleUserStrategy) Name() string { return StrategySingleUser }

func (s *SingleUserStrategy) NewSecretValue(ctx context.Context, current secretstore.Payload) (secretstore.Payload, error) {
	return DeriveSingleUser(ctx, current, s.Generator, s.Policy)
}

func (s *SingleUserStrategy) SetSecret(ctx context.Context, current, pending secretstore.Payload) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	clusterID := current.ClusterIdentifier()
	if clusterID == "" {
		clusterID = pending.ClusterIdentifier()
	}
	if clusterID == "" {
		return dberrors.ConfigError{
			Field:      "dbClusterIdentifier",
			Message:    "cluster identifier not found in secret",
			Suggestion: "Add 'dbClusterIdentifier' to the secret JSON",
		}
	}

	password := pending.Password()
	if password == "" {
		return dberrors.MissingFields("AWSPENDING secret", []string{secretstore.FieldPassword})
	}

	logger.Info("Updating master password of cluster %s", clusterID)
	if err := s.Cluster.SetClusterPassword(ctx, clusterID, password); err != nil {
		return fmt.Errorf("failed to set password of cluster %s: %w", clusterID, err)
	}

	logger.Info("Waiting %s for cluster password propagation", s.PropagationWait)
	return retry.Sleep(ctx, s.PropagationWait)
}
