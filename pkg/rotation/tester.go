package rotation

import (
	"context"
	"fmt"
	"time"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/internal/retry"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// ConnectionTester verifies that a credential can log in.
//
// Only authentication failures are retried, with a fixed delay, since those
// can be explained by a password that has not propagated yet. Connectivity
// failures fail immediately.
type ConnectionTester struct {
	Dialer     protocol.Dialer
	Attempts   int
	RetryDelay time.Duration
	Logger     *logging.Logger
	Metrics    *metrics.Recorder
}

// NewConnectionTester creates a tester
func NewConnectionTester(dialer protocol.Dialer, attempts int, retryDelay time.Duration, logger *logging.Logger, recorder *metrics.Recorder) *ConnectionTester {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ConnectionTester{
		Dialer:     dialer,
		Attempts:   attempts,
		RetryDelay: retryDelay,
		Logger:     logger,
		Metrics:    recorder,
	}
}

// Test connects with the credential in payload and runs SELECT 1
func (t *ConnectionTester) Test(ctx context.Context, payload secretstore.Payload) error {
	if err := secretstore.ValidatePayload(payload, "AWSPENDING secret",
		secretstore.FieldHost, secretstore.FieldPort, secretstore.FieldUsername, secretstore.FieldPassword); err != nil {
		return err
	}
	endpoint, err := endpointOf(payload, "AWSPENDING secret")
	if err != nil {
		return err
	}
	creds := protocol.Credentials{Username: payload.Username(), Password: payload.Password()}

	policy := retry.Fixed(t.Attempts, t.RetryDelay, dberrors.IsAuth)
	policy.OnRetry = func(state retry.State, err error) {
		t.Metrics.RecordTestAttempt(metrics.OutcomeRetry)
		t.Logger.Warn("Connection test as '%s' failed (attempt %d/%d): %s; retrying in %s",
			creds.Username, state.Attempt, state.MaxAttempts, logging.Redact(err.Error(), []string{creds.Password}), state.Delay)
	}

	err = policy.Do(ctx, func(ctx context.Context, _ retry.State) error {
		return t.probe(ctx, endpoint, creds)
	})
	if err != nil {
		t.Metrics.RecordTestAttempt(metrics.OutcomeFailure)
		return err
	}

	t.Metrics.RecordTestAttempt(metrics.OutcomeSuccess)
	t.Logger.Info("Connection test as '%s' to %s succeeded", creds.Username, endpoint)
	return nil
}

func (t *ConnectionTester) probe(ctx context.Context, endpoint protocol.Endpoint, creds protocol.Credentials) error {
	conn, err := t.Dialer.Connect(ctx, endpoint, creds)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var one int
	if err := conn.Get(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}
