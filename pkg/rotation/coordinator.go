package rotation

import (
	"context"
	"fmt"
	"time"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// Coordinator runs the four rotation phases against a store and a strategy
type Coordinator struct {
	store    secretstore.Store
	strategy Strategy
	tester   *ConnectionTester
	logger   *logging.Logger
	metrics  *metrics.Recorder
}

// NewCoordinator creates a coordinator. recorder may be nil.
func NewCoordinator(store secretstore.Store, strategy Strategy, tester *ConnectionTester, logger *logging.Logger, recorder *metrics.Recorder) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		store:    store,
		strategy: strategy,
		tester:   tester,
		logger:   logger,
		metrics:  recorder,
	}
}

// Handle validates req and runs the phase it names
func (c *Coordinator) Handle(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	logger := c.logger.
		With("secret_id", req.SecretID).
		With("phase", string(req.Phase)).
		With("strategy", c.strategy.Name()).
		With("token", req.Token)
	logger.Info("Starting %s", req.Phase)

	start := time.Now()
	var err error
	switch req.Phase {
	case PhaseCreateSecret:
		err = c.createSecret(ctx, logger, req.SecretID, req.Token)
	case PhaseSetSecret:
		err = c.setSecret(ctx, logger, req.SecretID, req.Token)
	case PhaseTestSecret:
		err = c.testSecret(ctx, logger, req.SecretID, req.Token)
	case PhaseFinishSecret:
		err = c.finishSecret(ctx, logger, req.SecretID, req.Token)
	}
	c.metrics.RecordPhase(string(req.Phase), c.strategy.Name(), err, time.Since(start))

	if err != nil {
		logger.Error("%s failed: %v", req.Phase, err)
		return err
	}
	logger.Info("Completed %s in %s", req.Phase, time.Since(start).Round(time.Millisecond))
	return nil
}

// CreateSecret stores a new AWSPENDING version under token unless one exists
func (c *Coordinator) CreateSecret(ctx context.Context, secretID, token string) error {
	return c.Handle(ctx, Request{Phase: PhaseCreateSecret, SecretID: secretID, Token: token})
}

// SetSecret provisions the pending credential
func (c *Coordinator) SetSecret(ctx context.Context, secretID, token string) error {
	return c.Handle(ctx, Request{Phase: PhaseSetSecret, SecretID: secretID, Token: token})
}

// TestSecret verifies the pending credential can connect
func (c *Coordinator) TestSecret(ctx context.Context, secretID, token string) error {
	return c.Handle(ctx, Request{Phase: PhaseTestSecret, SecretID: secretID, Token: token})
}

// FinishSecret moves AWSCURRENT to token
func (c *Coordinator) FinishSecret(ctx context.Context, secretID, token string) error {
	return c.Handle(ctx, Request{Phase: PhaseFinishSecret, SecretID: secretID, Token: token})
}

func (c *Coordinator) createSecret(ctx context.Context, logger *logging.Logger, secretID, token string) error {
	existing, err := c.store.Get(ctx, secretID, secretstore.StagePending, token)
	if err != nil {
		return storeError("get pending", secretID, err)
	}
	if existing.Found {
		logger.Info("Pending version already exists, skipping")
		return nil
	}

	current, err := c.currentPayload(ctx, secretID)
	if err != nil {
		return err
	}

	next, err := c.strategy.NewSecretValue(ctx, current)
	if err != nil {
		return err
	}

	if err := c.store.Put(ctx, secretID, token, next, secretstore.StagePending); err != nil {
		return storeError("put pending", secretID, err)
	}
	logger.Info("Created pending version for user '%s'", next.Username())
	return nil
}

func (c *Coordinator) setSecret(ctx context.Context, logger *logging.Logger, secretID, token string) error {
	current, err := c.currentPayload(ctx, secretID)
	if err != nil {
		return err
	}
	pending, err := c.pendingPayload(ctx, secretID, token)
	if err != nil {
		return err
	}

	logger.Info("Provisioning user '%s'", pending.Username())
	return c.strategy.SetSecret(ctx, current, pending)
}

func (c *Coordinator) testSecret(ctx context.Context, logger *logging.Logger, secretID, token string) error {
	pending, err := c.pendingPayload(ctx, secretID, token)
	if err != nil {
		return err
	}
	logger.Debug("Testing pending credential for user '%s'", pending.Username())
	return c.tester.Test(ctx, pending)
}

func (c *Coordinator) finishSecret(ctx context.Context, logger *logging.Logger, secretID, token string) error {
	stages, err := c.store.DescribeStages(ctx, secretID)
	if err != nil {
		return storeError("describe", secretID, err)
	}

	current, _ := secretstore.CurrentVersion(stages)
	if current == token {
		logger.Info("Version %s is already AWSCURRENT, skipping", token)
		return nil
	}

	if err := c.store.MoveStage(ctx, secretID, secretstore.StageCurrent, token, current); err != nil {
		return storeError("move current", secretID, err)
	}
	logger.Info("Moved AWSCURRENT from %s to %s", current, token)
	return nil
}

func (c *Coordinator) currentPayload(ctx context.Context, secretID string) (secretstore.Payload, error) {
	lookup, err := c.store.Get(ctx, secretID, secretstore.StageCurrent, "")
	if err != nil {
		return nil, storeError("get current", secretID, err)
	}
	if !lookup.Found {
		return nil, dberrors.ConfigError{
			Field:   "SecretId",
			Value:   secretID,
			Message: "secret has no AWSCURRENT version",
		}
	}
	return lookup.Payload, nil
}

func (c *Coordinator) pendingPayload(ctx context.Context, secretID, token string) (secretstore.Payload, error) {
	lookup, err := c.store.Get(ctx, secretID, secretstore.StagePending, token)
	if err != nil {
		return nil, storeError("get pending", secretID, err)
	}
	if !lookup.Found {
		return nil, dberrors.ConfigError{
			Field:      "ClientRequestToken",
			Value:      token,
			Message:    fmt.Sprintf("no AWSPENDING version %s for secret", token),
			Suggestion: "Run createSecret for this token first",
		}
	}
	return lookup.Payload, nil
}
