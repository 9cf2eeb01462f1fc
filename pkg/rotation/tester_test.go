package rotation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/metrics"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
	"github.com/systmms/dbrotate/tests/fakes"
	"github.com/systmms/dbrotate/tests/testutil"
)

func newTester(server *fakes.FakeServer, recorder *metrics.Recorder) *rotation.ConnectionTester {
	return rotation.NewConnectionTester(server, 3, time.Millisecond, nil, recorder)
}

func TestConnectionTesterSucceeds(t *testing.T) {
	server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
	recorder := metrics.NewRecorder()

	err := newTester(server, recorder).Test(context.Background(), appPayload(secondUser, "next-pw"))
	require.NoError(t, err)

	assert.Equal(t, 1, server.ConnectCount())
	assert.Equal(t, []string{"SELECT 1"}, server.Statements)
	assert.Equal(t, 1, server.Closes)
	requireMetrics(t, recorder, `
# HELP dbrotate_connection_test_attempts_total Connection test attempts by outcome
# TYPE dbrotate_connection_test_attempts_total counter
dbrotate_connection_test_attempts_total{outcome="success"} 1
`, "dbrotate_connection_test_attempts_total")
}

func TestConnectionTesterRetriesAuthFailures(t *testing.T) {
	server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
	server.ConnectErrors = []error{
		&dberrors.AuthError{User: secondUser, Host: "db.example.com", Code: protocol.CodeAccessDenied, Err: errors.New("denied")},
	}

	err := newTester(server, nil).Test(context.Background(), appPayload(secondUser, "next-pw"))
	require.NoError(t, err)
	assert.Equal(t, 2, server.ConnectCount())
}

func TestConnectionTesterGivesUpAfterAttempts(t *testing.T) {
	server := fakes.NewFakeServer(map[string]string{secondUser: "other"})

	err := newTester(server, nil).Test(context.Background(), appPayload(secondUser, "next-pw"))
	require.Error(t, err)
	assert.True(t, dberrors.IsAuth(err))
	assert.Equal(t, 3, server.ConnectCount())
}

func TestConnectionTesterDoesNotRetryOtherFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "unknown host",
			err:  &dberrors.ConnectivityError{Host: "nope.invalid", Port: 3306, Err: fmt.Errorf("no such host")},
		},
		{
			name: "server error",
			err:  &dberrors.DatabaseError{Op: "connect", Code: 1040, Err: fmt.Errorf("Too many connections")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
			server.ConnectErrors = []error{tt.err}

			err := newTester(server, nil).Test(context.Background(), appPayload(secondUser, "next-pw"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, server.ConnectCount(), "retries remain but are not used")
		})
	}
}

func TestConnectionTesterValidatesPayload(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(secretstore.Payload)
	}{
		{name: "missing host", mutate: func(p secretstore.Payload) { delete(p, "host") }},
		{name: "missing port", mutate: func(p secretstore.Payload) { delete(p, "port") }},
		{name: "missing username", mutate: func(p secretstore.Payload) { delete(p, "username") }},
		{name: "empty password", mutate: func(p secretstore.Payload) { p["password"] = "" }},
		{name: "port not a number", mutate: func(p secretstore.Payload) { p["port"] = "mysql" }},
		{name: "port zero", mutate: func(p secretstore.Payload) { p["port"] = "0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
			payload := appPayload(secondUser, "next-pw")
			tt.mutate(payload)

			err := newTester(server, nil).Test(context.Background(), payload)
			require.Error(t, err)
			assert.True(t, dberrors.IsConfig(err), "got %v", err)
			assert.Zero(t, server.ConnectCount())
		})
	}
}

func TestConnectionTesterAcceptsStringPort(t *testing.T) {
	server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
	payload := appPayload(secondUser, "next-pw")
	payload["port"] = "3307"

	require.NoError(t, newTester(server, nil).Test(context.Background(), payload))
	assert.Equal(t, 3307, server.Endpoints[0].Port)
}

func TestConnectionTesterRedactsPasswordInLogs(t *testing.T) {
	server := fakes.NewFakeServer(map[string]string{secondUser: "next-pw"})
	server.ConnectErrors = []error{
		&dberrors.AuthError{User: secondUser, Host: "db.example.com", Code: protocol.CodeAccessDenied,
			Err: errors.New("denied for password next-pw")},
	}
	logs := testutil.NewTestLogger(t)

	tester := rotation.NewConnectionTester(server, 3, time.Millisecond, logs.Logger(), nil)
	require.NoError(t, tester.Test(context.Background(), appPayload(secondUser, "next-pw")))

	logs.AssertLevel(t, "Connection test as 'app_user_2' failed (attempt 1/3)", "warn")
	logs.AssertContains(t, "denied for password [REDACTED]")
	logs.AssertNoSecretLeak(t, "next-pw")
}
