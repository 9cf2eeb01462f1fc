package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/dbrotate/internal/errors"
)

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "app_user_1",
		Value:      "",
		Message:    "must be set for the multi-user strategy",
		Suggestion: "Set APP_USER_1",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "app_user_1")
	assert.Contains(t, errMsg, "must be set for the multi-user strategy")
	assert.Contains(t, errMsg, "Set APP_USER_1")
}

func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("boom")
	err := errors.UserError{Message: "Rotation step failed", Err: inner, Suggestion: "retry"}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "Rotation step failed")
	assert.Contains(t, err.Error(), "retry")
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"config", errors.ConfigError{Message: "x"}, errors.IsConfig},
		{"auth", &errors.AuthError{User: "app", Host: "db", Code: 1045, Err: fmt.Errorf("denied")}, errors.IsAuth},
		{"connectivity", &errors.ConnectivityError{Host: "db", Port: 3306, Err: fmt.Errorf("refused")}, errors.IsConnectivity},
		{"parse", &errors.ParseError{Statement: "GRANT"}, errors.IsParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("setSecret: %w", fmt.Errorf("attempt 3: %w", tt.err))
			assert.True(t, tt.check(wrapped))
			assert.False(t, tt.check(fmt.Errorf("plain")))
		})
	}
}

func TestIsDatabaseCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("clone: %w", &errors.DatabaseError{Op: "show grants", Code: 1141, Err: fmt.Errorf("no such grant")})

	assert.True(t, errors.IsDatabaseCode(err, 1141))
	assert.False(t, errors.IsDatabaseCode(err, 1045))
	assert.Contains(t, err.Error(), "code 1141")
}

func TestMissingFields(t *testing.T) {
	t.Parallel()

	err := errors.MissingFields("AWSPENDING secret", []string{"host", "password"})

	assert.True(t, errors.IsConfig(err))
	assert.Contains(t, err.Error(), "host, password")
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	assert.Empty(t, errors.Suggest(nil))
	assert.Contains(t, errors.Suggest(&errors.AuthError{Err: fmt.Errorf("x")}), "master rotation")
	assert.Contains(t, errors.Suggest(&errors.ConnectivityError{Err: fmt.Errorf("x")}), "DB_CA_BUNDLE_PATH")
	assert.Contains(t, errors.Suggest(fmt.Errorf("AccessDeniedException: nope")), "IAM")
	assert.Empty(t, errors.Suggest(fmt.Errorf("something else")))
}
