package rotation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
	"github.com/systmms/dbrotate/tests/fakes"
)

func clusterPayload(password string) secretstore.Payload {
	return secretstore.Payload{
		"engine":              "mysql",
		"host":                "prod.cluster-abc.us-east-1.rds.amazonaws.com",
		"port":                3306,
		"username":            "admin",
		"password":            password,
		"dbClusterIdentifier": "prod-cluster",
	}
}

func TestSingleUserSetSecret(t *testing.T) {
	changer := &fakes.FakeClusterPasswordChanger{}
	strategy := &rotation.SingleUserStrategy{Cluster: changer, PropagationWait: time.Millisecond}

	err := strategy.SetSecret(context.Background(), clusterPayload("old"), clusterPayload("new"))
	require.NoError(t, err)
	assert.Equal(t, []fakes.ClusterPasswordCall{{ClusterID: "prod-cluster", Password: "new"}}, changer.Calls)
}

func TestSingleUserClusterIdentifierLookup(t *testing.T) {
	tests := []struct {
		name    string
		current secretstore.Payload
		pending secretstore.Payload
		want    string
	}{
		{
			name:    "current",
			current: secretstore.Payload{"dbClusterIdentifier": "from-current"},
			pending: secretstore.Payload{"password": "new", "dbClusterIdentifier": "from-pending"},
			want:    "from-current",
		},
		{
			name:    "alternate field",
			current: secretstore.Payload{"clusterIdentifier": "alt"},
			pending: secretstore.Payload{"password": "new"},
			want:    "alt",
		},
		{
			name:    "pending fallback",
			current: secretstore.Payload{},
			pending: secretstore.Payload{"password": "new", "dbClusterIdentifier": "from-pending"},
			want:    "from-pending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changer := &fakes.FakeClusterPasswordChanger{}
			strategy := &rotation.SingleUserStrategy{Cluster: changer}

			require.NoError(t, strategy.SetSecret(context.Background(), tt.current, tt.pending))
			require.Len(t, changer.Calls, 1)
			assert.Equal(t, tt.want, changer.Calls[0].ClusterID)
		})
	}
}

func TestSingleUserSetSecretConfigErrors(t *testing.T) {
	changer := &fakes.FakeClusterPasswordChanger{}
	strategy := &rotation.SingleUserStrategy{Cluster: changer}

	err := strategy.SetSecret(context.Background(), secretstore.Payload{}, secretstore.Payload{"password": "new"})
	assert.True(t, dberrors.IsConfig(err))
	assert.Contains(t, err.Error(), "cluster identifier")

	err = strategy.SetSecret(context.Background(), clusterPayload("old"), secretstore.Payload{})
	assert.True(t, dberrors.IsConfig(err))

	assert.Empty(t, changer.Calls)
}

func TestSingleUserSetSecretClusterFailure(t *testing.T) {
	boom := errors.New("DBClusterNotFoundFault: cluster prod-cluster not found")
	strategy := &rotation.SingleUserStrategy{Cluster: &fakes.FakeClusterPasswordChanger{Err: boom}}

	err := strategy.SetSecret(context.Background(), clusterPayload("old"), clusterPayload("new"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "prod-cluster")
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "multi-user", (&rotation.MultiUserStrategy{}).Name())
	assert.Equal(t, "single-user", (&rotation.SingleUserStrategy{}).Name())
}
