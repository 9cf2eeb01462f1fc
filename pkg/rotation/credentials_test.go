package rotation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// failingStore returns err from every call
type failingStore struct {
	secretstore.Store
	err error
}

func (f failingStore) Get(context.Context, string, secretstore.Stage, string) (secretstore.Lookup, error) {
	return secretstore.Lookup{}, f.err
}

func TestStoreCredentialResolver(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	store.Seed(masterSecret, "m1", masterPayload("current-pw"))
	resolver := rotation.NewStoreCredentialResolver(store, masterSecret)

	creds, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Credentials{Username: "admin", Password: "current-pw"}, creds)

	rotating, err := resolver.RotationInProgress(ctx)
	require.NoError(t, err)
	assert.False(t, rotating)

	require.NoError(t, store.Put(ctx, masterSecret, "m2", masterPayload("pending-pw"), secretstore.StagePending))

	creds, err = resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending-pw", creds.Password, "pending is preferred over current")

	rotating, err = resolver.RotationInProgress(ctx)
	require.NoError(t, err)
	assert.True(t, rotating)

	require.NoError(t, store.MoveStage(ctx, masterSecret, secretstore.StageCurrent, "m2", "m1"))
	creds, err = resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending-pw", creds.Password, "each call reads the store again")
}

func TestStoreCredentialResolverErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing secret", func(t *testing.T) {
		resolver := rotation.NewStoreCredentialResolver(secretstore.NewMemoryStore(), masterSecret)
		_, err := resolver.Resolve(ctx)
		assert.True(t, dberrors.IsConfig(err))
	})

	t.Run("no password", func(t *testing.T) {
		store := secretstore.NewMemoryStore()
		store.Seed(masterSecret, "m1", secretstore.Payload{"username": "admin"})
		_, err := rotation.NewStoreCredentialResolver(store, masterSecret).Resolve(ctx)
		require.Error(t, err)
		assert.True(t, dberrors.IsConfig(err))
		assert.Contains(t, err.Error(), "incomplete master credentials")
	})

	t.Run("store failure", func(t *testing.T) {
		boom := errors.New("throttled")
		resolver := rotation.NewStoreCredentialResolver(failingStore{err: boom}, masterSecret)

		_, err := resolver.Resolve(ctx)
		var storeErr *dberrors.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, masterSecret, storeErr.SecretID)
		assert.ErrorIs(t, err, boom)

		_, err = resolver.RotationInProgress(ctx)
		assert.ErrorIs(t, err, boom)
	})
}

func TestStaticCredentialResolver(t *testing.T) {
	resolver := rotation.StaticCredentialResolver{Username: "admin", Password: "pw"}

	creds, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", creds.Username)

	rotating, err := resolver.RotationInProgress(context.Background())
	require.NoError(t, err)
	assert.False(t, rotating)
}
