package rotation_test

import (
	"context"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/pkg/privileges"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
	"github.com/systmms/dbrotate/tests/fakes"
	"github.com/systmms/dbrotate/tests/testutil"
)

const (
	appSecret    = "arn:aws:secretsmanager:us-east-1:123456789012:secret:app-AbCdEf"
	masterSecret = "arn:aws:secretsmanager:us-east-1:123456789012:secret:master-AbCdEf"
	firstUser    = "app_user_1"
	secondUser   = "app_user_2"
)

func fastProvisionConfig() rotation.ProvisionConfig {
	return rotation.ProvisionConfig{
		MaxAttempts:        4,
		RetryDelay:         time.Millisecond,
		MaxRetryDelay:      4 * time.Millisecond,
		MasterRotationWait: time.Millisecond,
		PropagationWait:    time.Millisecond,
	}
}

func appPayload(user, password string) secretstore.Payload {
	return secretstore.Payload{
		"engine":   "mysql",
		"host":     "db.example.com",
		"port":     3306,
		"username": user,
		"password": password,
		"database": "app",
	}
}

func masterPayload(password string) secretstore.Payload {
	return secretstore.Payload{
		"host":     "db.example.com",
		"port":     3306,
		"username": "admin",
		"password": password,
	}
}

// multiUserEnv wires a multi-user coordinator to an in-memory store and a
// fake database server
type multiUserEnv struct {
	store    *secretstore.MemoryStore
	server   *fakes.FakeServer
	gen      *fakes.FakeGenerator
	recorder *metrics.Recorder
	logs     *testutil.TestLogger
	cloner   *privileges.Cloner

	provisioner *rotation.Provisioner
	tester      *rotation.ConnectionTester
	coordinator *rotation.Coordinator
}

func newMultiUserEnv(t *testing.T, dialer protocol.Dialer) *multiUserEnv {
	t.Helper()

	env := &multiUserEnv{
		store:    secretstore.NewMemoryStore(),
		server:   fakes.NewFakeServer(map[string]string{"admin": "master-pw"}),
		gen:      &fakes.FakeGenerator{},
		recorder: metrics.NewRecorder(),
		logs:     testutil.NewTestLogger(t),
	}
	env.server.AddUser(firstUser, "initial-pw",
		"GRANT SELECT, INSERT, UPDATE ON `app`.* TO 'app_user_1'@'%'",
		"GRANT SELECT ON `reporting`.`daily` TO 'app_user_1'@'%' WITH GRANT OPTION",
	)
	env.store.Seed(masterSecret, "master-v1", masterPayload("master-pw"))
	env.store.Seed(appSecret, "app-v1", appPayload(firstUser, "initial-pw"))

	if dialer == nil {
		dialer = env.server
	}

	logger := env.logs.Logger()
	env.cloner = privileges.NewCloner([]string{"SELECT", "INSERT"}, true, logger)
	env.provisioner = rotation.NewProvisioner(
		dialer,
		rotation.NewStoreCredentialResolver(env.store, masterSecret),
		env.cloner,
		fastProvisionConfig(),
		logger,
		env.recorder,
	)
	env.tester = rotation.NewConnectionTester(dialer, 3, time.Millisecond, logger, env.recorder)

	strategy := &rotation.MultiUserStrategy{
		FirstUser:   firstUser,
		SecondUser:  secondUser,
		Generator:   env.gen,
		Policy:      rotation.PasswordPolicy{Length: 32, ExcludeCharacters: `/@"'\`},
		Provisioner: env.provisioner,
	}
	env.coordinator = rotation.NewCoordinator(env.store, strategy, env.tester, logger, env.recorder)
	return env
}

// rotate runs all four phases for token
func (e *multiUserEnv) rotate(t *testing.T, token string) {
	t.Helper()
	for _, phase := range rotation.Phases {
		err := e.coordinator.Handle(context.Background(), rotation.Request{Phase: phase, SecretID: appSecret, Token: token})
		require.NoError(t, err, "phase %s", phase)
	}
}

func (e *multiUserEnv) current(t *testing.T) secretstore.Payload {
	t.Helper()
	lookup, err := e.store.Get(context.Background(), appSecret, secretstore.StageCurrent, "")
	require.NoError(t, err)
	require.True(t, lookup.Found)
	return lookup.Payload
}

func requireMetrics(t *testing.T, recorder *metrics.Recorder, expected string, names ...string) {
	t.Helper()
	require.NoError(t, promtestutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), names...))
}
