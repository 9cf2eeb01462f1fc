package rotation

import (
	"context"
	"fmt"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// PasswordPolicy constrains generated passwords
type PasswordPolicy struct {
	Length            int
	ExcludeCharacters string
}

// PasswordGenerator produces a password containing at least one uppercase
// letter, lowercase letter, digit and punctuation character, and no spaces.
type PasswordGenerator interface {
	GeneratePassword(ctx context.Context, policy PasswordPolicy) (string, error)
}

// NextIdentity returns the user that follows current: second when current is
// first, otherwise first.
func NextIdentity(current, first, second string) string {
	if current == first {
		return second
	}
	return first
}

// DeriveMultiUser copies current, switches the username to the other user and
// sets a fresh password.
func DeriveMultiUser(ctx context.Context, current secretstore.Payload, first, second string, gen PasswordGenerator, policy PasswordPolicy) (secretstore.Payload, error) {
	if first == "" || second == "" {
		return nil, dberrors.MissingFields("multi-user configuration", []string{"app_user_1", "app_user_2"})
	}

	next, err := deriveWithPassword(ctx, current, gen, policy)
	if err != nil {
		return nil, err
	}
	next[secretstore.FieldUsername] = NextIdentity(current.Username(), first, second)
	return next, nil
}

// DeriveSingleUser copies current and replaces only the password
func DeriveSingleUser(ctx context.Context, current secretstore.Payload, gen PasswordGenerator, policy PasswordPolicy) (secretstore.Payload, error) {
	return deriveWithPassword(ctx, current, gen, policy)
}

func deriveWithPassword(ctx context.Context, current secretstore.Payload, gen PasswordGenerator, policy PasswordPolicy) (secretstore.Payload, error) {
	if !current.Has(secretstore.FieldPassword) {
		return nil, dberrors.ConfigError{
			Field:      "AWSCURRENT secret",
			Message:    "the 'password' field is required in the current secret",
			Suggestion: "Store the secret as JSON with host, port, username and password",
		}
	}

	password, err := gen.GeneratePassword(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	next := current.Clone()
	next[secretstore.FieldPassword] = password
	return next, nil
}
