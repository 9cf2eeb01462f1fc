package rotation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
	"github.com/systmms/dbrotate/tests/fakes"
)

func TestMultiUserRotation(t *testing.T) {
	env := newMultiUserEnv(t, nil)

	env.rotate(t, "token-1")

	current := env.current(t)
	assert.Equal(t, secondUser, current.Username())
	assert.Equal(t, "Passw0rd!1", current.Password())
	assert.Equal(t, "mysql", current["engine"], "pass-through fields survive rotation")

	password, ok := env.server.Password(secondUser)
	require.True(t, ok)
	assert.Equal(t, "Passw0rd!1", password)

	old, _ := env.server.Password(firstUser)
	assert.Equal(t, "initial-pw", old, "the previous user keeps working")

	stages, err := env.store.DescribeStages(context.Background(), appSecret)
	require.NoError(t, err)
	assert.Contains(t, stages["app-v1"], secretstore.StagePrevious)
	assert.Contains(t, stages["token-1"], secretstore.StageCurrent)
}

func TestMultiUserRotationAlternates(t *testing.T) {
	env := newMultiUserEnv(t, nil)

	var users []string
	for i := 1; i <= 4; i++ {
		env.rotate(t, fmt.Sprintf("token-%d", i))
		users = append(users, env.current(t).Username())
	}

	assert.Equal(t, []string{secondUser, firstUser, secondUser, firstUser}, users)

	p1, _ := env.server.Password(firstUser)
	p2, _ := env.server.Password(secondUser)
	assert.Equal(t, "Passw0rd!4", p1)
	assert.Equal(t, "Passw0rd!3", p2)
	assert.Len(t, env.server.Grants(secondUser), 2, "grants are cloned once, on creation")
}

func TestCreateSecretIsIdempotent(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.coordinator.CreateSecret(ctx, appSecret, "token-1"))
	require.NoError(t, env.coordinator.CreateSecret(ctx, appSecret, "token-1"))

	assert.Equal(t, 1, env.store.Puts[appSecret])
	assert.Len(t, env.gen.Calls, 1)

	stages, err := env.store.DescribeStages(ctx, appSecret)
	require.NoError(t, err)
	pending := 0
	for _, labels := range stages {
		for _, s := range labels {
			if s == secretstore.StagePending {
				pending++
			}
		}
	}
	assert.Equal(t, 1, pending)
}

func TestSetSecretIsRepeatable(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.coordinator.CreateSecret(ctx, appSecret, "token-1"))
	require.NoError(t, env.coordinator.SetSecret(ctx, appSecret, "token-1"))
	require.NoError(t, env.coordinator.SetSecret(ctx, appSecret, "token-1"))

	password, _ := env.server.Password(secondUser)
	assert.Equal(t, "Passw0rd!1", password)
	assert.Len(t, env.server.Grants(secondUser), 2, "the second run updates the password only")
}

func TestFinishSecretSkipsWhenAlreadyCurrent(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	ctx := context.Background()

	env.rotate(t, "token-1")
	before, err := env.store.DescribeStages(ctx, appSecret)
	require.NoError(t, err)

	require.NoError(t, env.coordinator.FinishSecret(ctx, appSecret, "token-1"))

	after, err := env.store.DescribeStages(ctx, appSecret)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	env.logs.AssertContains(t, "already AWSCURRENT")
}

func TestPhasesRequirePriorState(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	ctx := context.Background()

	err := env.coordinator.SetSecret(ctx, appSecret, "unknown-token")
	assert.True(t, dberrors.IsConfig(err))

	err = env.coordinator.TestSecret(ctx, appSecret, "unknown-token")
	assert.True(t, dberrors.IsConfig(err))

	err = env.coordinator.CreateSecret(ctx, "arn:missing", "token-1")
	assert.True(t, dberrors.IsConfig(err))
	assert.Zero(t, env.server.ConnectCount())
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	env := newMultiUserEnv(t, nil)

	err := env.coordinator.Handle(context.Background(), rotation.Request{Phase: "rollback", SecretID: appSecret, Token: "t"})
	assert.True(t, dberrors.IsConfig(err))

	err = env.coordinator.Handle(context.Background(), rotation.Request{Phase: rotation.PhaseCreateSecret, SecretID: appSecret})
	assert.True(t, dberrors.IsConfig(err))
}

func TestHandleWrapsStoreErrors(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	boom := fmt.Errorf("service unavailable")
	coordinator := rotation.NewCoordinator(failingStore{err: boom}, &rotation.SingleUserStrategy{}, env.tester, nil, nil)

	err := coordinator.CreateSecret(context.Background(), appSecret, "token-1")
	require.Error(t, err)

	var storeErr *dberrors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get pending", storeErr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestHandleRecordsPhaseMetrics(t *testing.T) {
	env := newMultiUserEnv(t, nil)
	env.rotate(t, "token-1")
	_ = env.coordinator.SetSecret(context.Background(), appSecret, "missing")

	requireMetrics(t, env.recorder, `
# HELP dbrotate_phase_total Total number of rotation phases handled
# TYPE dbrotate_phase_total counter
dbrotate_phase_total{phase="createSecret",status="success",strategy="multi-user"} 1
dbrotate_phase_total{phase="finishSecret",status="success",strategy="multi-user"} 1
dbrotate_phase_total{phase="setSecret",status="failure",strategy="multi-user"} 1
dbrotate_phase_total{phase="setSecret",status="success",strategy="multi-user"} 1
dbrotate_phase_total{phase="testSecret",status="success",strategy="multi-user"} 1
`, "dbrotate_phase_total")
}

func TestSingleUserRotation(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	store.Seed(appSecret, "v1", clusterPayload("initial-pw"))

	server := fakes.NewFakeServer(map[string]string{"admin": "initial-pw"})
	changer := &fakes.FakeClusterPasswordChanger{Server: server, User: "admin"}
	gen := &fakes.FakeGenerator{}
	recorder := metrics.NewRecorder()

	strategy := &rotation.SingleUserStrategy{
		Generator:       gen,
		Policy:          rotation.PasswordPolicy{Length: 32},
		Cluster:         changer,
		PropagationWait: time.Millisecond,
	}
	tester := rotation.NewConnectionTester(server, 3, time.Millisecond, nil, recorder)
	coordinator := rotation.NewCoordinator(store, strategy, tester, nil, recorder)

	for _, phase := range rotation.Phases {
		require.NoError(t, coordinator.Handle(ctx, rotation.Request{Phase: phase, SecretID: appSecret, Token: "token-1"}), "phase %s", phase)
	}

	lookup, err := store.Get(ctx, appSecret, secretstore.StageCurrent, "")
	require.NoError(t, err)
	assert.Equal(t, "token-1", lookup.VersionID)
	assert.Equal(t, "admin", lookup.Payload.Username())
	assert.Equal(t, "Passw0rd!1", lookup.Payload.Password())
	assert.Equal(t, []fakes.ClusterPasswordCall{{ClusterID: "prod-cluster", Password: "Passw0rd!1"}}, changer.Calls)

	password, _ := server.Password("admin")
	assert.Equal(t, "Passw0rd!1", password)
}
