package rotation

import (
	"context"
	"fmt"
	"time"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/internal/retry"
	"github.com/systmms/dbrotate/pkg/privileges"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// ProvisionConfig tunes the provisioning retry loop
type ProvisionConfig struct {
	MaxAttempts        int
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	MasterRotationWait time.Duration
	PropagationWait    time.Duration
}

// DefaultProvisionConfig returns the production defaults
func DefaultProvisionConfig() ProvisionConfig {
	return ProvisionConfig{
		MaxAttempts:        10,
		RetryDelay:         3 * time.Second,
		MaxRetryDelay:      30 * time.Second,
		MasterRotationWait: 8 * time.Second,
		PropagationWait:    5 * time.Second,
	}
}

// quietAuthAttempts is how many auth failures are logged at info level while
// the master credential is rotating
const quietAuthAttempts = 3

// dropTimeout bounds the cleanup of a partially provisioned user
const dropTimeout = 10 * time.Second

// Provisioner creates or updates the next application user in the database
// while connected as the master user.
type Provisioner struct {
	Dialer  protocol.Dialer
	Master  CredentialResolver
	Cloner  *privileges.Cloner
	Config  ProvisionConfig
	Logger  *logging.Logger
	Metrics *metrics.Recorder
}

// NewProvisioner creates a provisioner. A nil logger is replaced by a no-op one.
func NewProvisioner(dialer protocol.Dialer, master CredentialResolver, cloner *privileges.Cloner, cfg ProvisionConfig, logger *logging.Logger, recorder *metrics.Recorder) *Provisioner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provisioner{
		Dialer:  dialer,
		Master:  master,
		Cloner:  cloner,
		Config:  cfg,
		Logger:  logger,
		Metrics: recorder,
	}
}

// target is everything one attempt needs from the rotated secret
type target struct {
	endpoint    protocol.Endpoint
	database    string
	currentUser string
	newUser     string
	newPassword logging.Secret
}

// redact strips the pending password from err, which may echo an
// interpolated statement
func (t target) redact(err error) string {
	return logging.Redact(err.Error(), []string{string(t.newPassword)})
}

func resolveTarget(current, pending secretstore.Payload) (target, error) {
	if err := secretstore.ValidatePayload(current, "AWSCURRENT secret", secretstore.FieldUsername); err != nil {
		return target{}, err
	}
	if err := secretstore.ValidatePayload(pending, "AWSPENDING secret", secretstore.FieldUsername, secretstore.FieldPassword); err != nil {
		return target{}, err
	}

	source := current
	if source.Host() == "" {
		source = pending
	}
	endpoint, err := endpointOf(source, "AWSCURRENT secret")
	if err != nil {
		return target{}, err
	}

	database := current.Database()
	if database == "" {
		database = pending.Database()
	}

	return target{
		endpoint:    endpoint,
		database:    database,
		currentUser: current.Username(),
		newUser:     pending.Username(),
		newPassword: logging.Secret(pending.Password()),
	}, nil
}

// Provision makes the pending user usable: it updates the password of an
// existing user, or creates the user and copies the current user's grants.
// An existing user holding nothing beyond USAGE also receives the copied
// grants.
// Authentication and other database failures are retried with exponential
// backoff, resolving the master credential again before every attempt.
func (p *Provisioner) Provision(ctx context.Context, current, pending secretstore.Payload) error {
	t, err := resolveTarget(current, pending)
	if err != nil {
		return err
	}

	rotating, err := p.Master.RotationInProgress(ctx)
	if err != nil {
		return err
	}
	p.Metrics.SetMasterRotationInProgress(rotating)
	if rotating {
		p.Logger.Info("Master secret rotation in progress, waiting %s before connecting", p.Config.MasterRotationWait)
		if err := retry.Sleep(ctx, p.Config.MasterRotationWait); err != nil {
			return err
		}
	}

	policy := retry.Exponential(p.Config.MaxAttempts, p.Config.RetryDelay, p.Config.MaxRetryDelay, retryableProvisionError)
	policy.OnRetry = func(state retry.State, err error) {
		p.Metrics.RecordProvisionAttempt(metrics.OutcomeRetry)
		if dberrors.IsAuth(err) && rotating && state.Attempt <= quietAuthAttempts {
			p.Logger.Info("Authentication failed during master rotation (attempt %d/%d), retrying in %s",
				state.Attempt, state.MaxAttempts, state.Delay)
			return
		}
		p.Logger.Warn("Provisioning attempt %d/%d failed: %s; retrying in %s",
			state.Attempt, state.MaxAttempts, t.redact(err), state.Delay)
	}

	attempts := 0
	err = policy.Do(ctx, func(ctx context.Context, state retry.State) error {
		attempts = state.Attempt
		return p.attempt(ctx, t)
	})
	if err != nil {
		p.Metrics.RecordProvisionAttempt(metrics.OutcomeFailure)
		p.Logger.Error("Failed to provision user '%s' after %d attempt(s): %s", t.newUser, attempts, t.redact(err))
		return err
	}

	p.Metrics.RecordProvisionAttempt(metrics.OutcomeSuccess)
	if attempts > 1 {
		p.Logger.Info("Provisioned user '%s' after %d attempts", t.newUser, attempts)
	}

	p.Logger.Debug("Waiting %s for password propagation", p.Config.PropagationWait)
	return retry.Sleep(ctx, p.Config.PropagationWait)
}

func (p *Provisioner) attempt(ctx context.Context, t target) error {
	creds, err := p.Master.Resolve(ctx)
	if err != nil {
		return err
	}

	conn, err := p.Dialer.Connect(ctx, t.endpoint, creds)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var count int
	if err := conn.Get(ctx, &count, "SELECT COUNT(*) FROM mysql.user WHERE user = ? AND host = '%'", t.newUser); err != nil {
		return fmt.Errorf("failed to look up user %s: %w", t.newUser, err)
	}

	if count > 0 {
		p.Logger.Info("User '%s' exists, updating password", t.newUser)
		if err := conn.Exec(ctx, "ALTER USER ?@'%' IDENTIFIED BY ?", t.newUser, string(t.newPassword)); err != nil {
			return fmt.Errorf("failed to update password of %s: %w", t.newUser, err)
		}
		granted, err := p.Cloner.HasGrants(ctx, conn, t.newUser)
		if err != nil {
			return err
		}
		if granted {
			return p.commit(conn, t)
		}
		p.Logger.Warn("User '%s' exists without privileges, copying grants from '%s'", t.newUser, t.currentUser)
	} else {
		p.Logger.Info("Creating user '%s'", t.newUser)
		if err := conn.Exec(ctx, "CREATE USER ?@'%' IDENTIFIED BY ?", t.newUser, string(t.newPassword)); err != nil {
			return fmt.Errorf("failed to create user %s: %w", t.newUser, err)
		}
	}

	result, err := p.Cloner.Clone(ctx, conn, t.currentUser, t.newUser, t.database)
	if err != nil {
		// CREATE USER and GRANT commit implicitly; drop the user so the next
		// attempt starts clean.
		p.dropUser(ctx, conn, t)
		return err
	}
	if result.Bootstrapped {
		p.Metrics.RecordBootstrap()
	}
	return p.commit(conn, t)
}

func (p *Provisioner) commit(conn protocol.Conn, t target) error {
	if err := conn.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes for %s: %w", t.newUser, err)
	}
	return nil
}

func (p *Provisioner) dropUser(ctx context.Context, conn protocol.Conn, t target) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()

	if err := conn.Exec(ctx, "DROP USER IF EXISTS ?@'%'", t.newUser); err != nil {
		p.Logger.Warn("Failed to drop partially provisioned user '%s': %s", t.newUser, t.redact(err))
		return
	}
	p.Logger.Info("Dropped partially provisioned user '%s'", t.newUser)
}

// retryableProvisionError retries everything except configuration and grant
// parsing failures, which another attempt cannot fix.
func retryableProvisionError(err error) bool {
	return !dberrors.IsConfig(err) && !dberrors.IsParse(err)
}
