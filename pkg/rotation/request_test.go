package rotation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/rotation"
)

func TestParsePhase(t *testing.T) {
	for _, p := range rotation.Phases {
		got, err := rotation.ParsePhase(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := rotation.ParsePhase("CreateSecret")
	assert.True(t, dberrors.IsConfig(err))
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		want    rotation.Request
		wantErr string
	}{
		{
			name:  "valid",
			event: `{"Step":"setSecret","SecretId":"arn:app","ClientRequestToken":"tok-1"}`,
			want:  rotation.Request{Phase: rotation.PhaseSetSecret, SecretID: "arn:app", Token: "tok-1"},
		},
		{
			name:    "missing token",
			event:   `{"Step":"setSecret","SecretId":"arn:app"}`,
			wantErr: "ClientRequestToken",
		},
		{
			name:    "missing everything",
			event:   `{}`,
			wantErr: "Step, SecretId, ClientRequestToken",
		},
		{
			name:    "unknown step",
			event:   `{"Step":"rollback","SecretId":"arn:app","ClientRequestToken":"tok-1"}`,
			wantErr: "unknown rotation step",
		},
		{
			name:    "not json",
			event:   `Step=createSecret`,
			wantErr: "invalid event JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rotation.ParseEvent([]byte(tt.event))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, dberrors.IsConfig(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
