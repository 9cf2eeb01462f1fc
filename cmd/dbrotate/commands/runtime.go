package commands

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/systmms/dbrotate/internal/config"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/internal/providers"
	"github.com/systmms/dbrotate/pkg/privileges"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// SecretStore is the secret store the commands rotate against. Secrets
// Manager also generates the passwords.
type SecretStore interface {
	secretstore.Store
	rotation.PasswordGenerator
}

// Runtime carries the global flags and the factories commands use to reach
// AWS and the database. Tests swap the factories for fakes.
type Runtime struct {
	ConfigPath string
	Debug      bool

	// Viper receives flag bindings before the configuration is loaded
	Viper *viper.Viper

	NewAWSConfig func(ctx context.Context, cfg config.AWSConfig) (aws.Config, error)
	NewStore     func(cfg aws.Config) SecretStore
	NewCluster   func(cfg aws.Config) rotation.ClusterPasswordChanger
	NewSTS       func(cfg aws.Config) providers.STSClientAPI
	NewDialer    func(cfg config.DatabaseConfig) protocol.Dialer

	Recorder *metrics.Recorder
}

// NewRuntime returns a Runtime wired to the real AWS and MySQL clients
func NewRuntime() *Runtime {
	return &Runtime{
		Viper: viper.New(),
		NewAWSConfig: func(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
			return providers.LoadAWSConfig(ctx, providers.AWSOptions{
				Region:        cfg.Region,
				Endpoint:      cfg.Endpoint,
				Profile:       cfg.Profile,
				AssumeRoleARN: cfg.AssumeRoleARN,
			})
		},
		NewStore: func(cfg aws.Config) SecretStore {
			return providers.NewSecretsManagerStore(cfg)
		},
		NewCluster: func(cfg aws.Config) rotation.ClusterPasswordChanger {
			return providers.NewRDSClusterPasswordChanger(cfg)
		},
		NewSTS: func(cfg aws.Config) providers.STSClientAPI {
			return providers.NewSTSClient(cfg)
		},
		NewDialer: func(cfg config.DatabaseConfig) protocol.Dialer {
			return protocol.NewMySQLDialer(cfg.CABundlePath, cfg.ConnectTimeout)
		},
		Recorder: metrics.NewRecorder(),
	}
}

// Load reads the configuration and builds the logger for one command
func (r *Runtime) Load(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	v := r.Viper
	if v == nil {
		v = viper.New()
	}
	if r.Debug {
		v.Set("log.level", "debug")
	}

	cfg, err := config.LoadWith(v, r.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

// session is everything a rotation command needs once configuration is loaded
type session struct {
	cfg         *config.Config
	logger      *logging.Logger
	aws         aws.Config
	store       SecretStore
	coordinator *rotation.Coordinator
}

func (r *Runtime) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, logger, err := r.Load(cmd)
	if err != nil {
		return nil, err
	}

	awsCfg, err := r.NewAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	store := r.NewStore(awsCfg)

	s := &session{cfg: cfg, logger: logger, aws: awsCfg, store: store}
	s.coordinator = rotation.NewCoordinator(store, r.strategy(cfg, awsCfg, store, logger), r.tester(cfg, logger), logger, r.Recorder)
	return s, nil
}

func (r *Runtime) tester(cfg *config.Config, logger *logging.Logger) *rotation.ConnectionTester {
	return rotation.NewConnectionTester(r.NewDialer(cfg.Database), cfg.Test.Attempts, cfg.Test.RetryDelay, logger, r.Recorder)
}

func (r *Runtime) strategy(cfg *config.Config, awsCfg aws.Config, store SecretStore, logger *logging.Logger) rotation.Strategy {
	policy := rotation.PasswordPolicy{
		Length:            cfg.Password.Length,
		ExcludeCharacters: cfg.Password.ExcludeCharacters,
	}

	if !cfg.MultiUser() {
		return &rotation.SingleUserStrategy{
			Generator:       store,
			Policy:          policy,
			Cluster:         r.NewCluster(awsCfg),
			PropagationWait: cfg.Cluster.PropagationWait,
			Logger:          logger,
		}
	}

	provisioner := rotation.NewProvisioner(
		r.NewDialer(cfg.Database),
		rotation.NewStoreCredentialResolver(store, cfg.MasterSecretID),
		privileges.NewCloner(cfg.Database.DefaultPrivileges, cfg.Database.AllowBootstrap, logger),
		rotation.ProvisionConfig{
			MaxAttempts:        cfg.Provision.MaxAttempts,
			RetryDelay:         cfg.Provision.RetryDelay,
			MaxRetryDelay:      cfg.Provision.MaxRetryDelay,
			MasterRotationWait: cfg.Provision.MasterRotationWait,
			PropagationWait:    cfg.Provision.PropagationWait,
		},
		logger,
		r.Recorder,
	)
	return &rotation.MultiUserStrategy{
		FirstUser:   cfg.AppUser1,
		SecondUser:  cfg.AppUser2,
		Generator:   store,
		Policy:      policy,
		Provisioner: provisioner,
	}
}

const pushTimeout = 10 * time.Second

// pushMetrics sends the collected metrics when a pushgateway is configured.
// A failed push is logged, never returned.
func (r *Runtime) pushMetrics(s *session, job string) {
	if s == nil || s.cfg.Metrics.Pushgateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := r.Recorder.Push(ctx, s.cfg.Metrics.Pushgateway, job); err != nil {
		s.logger.Warn("Failed to push metrics to %s: %v", s.cfg.Metrics.Pushgateway, err)
	}
}
