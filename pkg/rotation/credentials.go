package rotation

import (
	"context"
	"errors"
	"fmt"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/protocol"
	"github.com/systmms/dbrotate/pkg/secretstore"
)

// CredentialResolver yields the master credential used to provision
// application users.
type CredentialResolver interface {
	// Resolve is called once per provisioning attempt and must not cache.
	Resolve(ctx context.Context) (protocol.Credentials, error)
	// RotationInProgress reports whether the master credential itself is
	// mid-rotation.
	RotationInProgress(ctx context.Context) (bool, error)
}

// StoreCredentialResolver reads the master secret from a Store, preferring the
// AWSPENDING version over AWSCURRENT.
type StoreCredentialResolver struct {
	Store    secretstore.Store
	SecretID string
}

// NewStoreCredentialResolver creates a resolver for secretID
func NewStoreCredentialResolver(store secretstore.Store, secretID string) *StoreCredentialResolver {
	return &StoreCredentialResolver{Store: store, SecretID: secretID}
}

func (r *StoreCredentialResolver) Resolve(ctx context.Context) (protocol.Credentials, error) {
	lookup, err := r.Store.Get(ctx, r.SecretID, secretstore.StagePending, "")
	if err != nil {
		return protocol.Credentials{}, storeError("get master pending", r.SecretID, err)
	}
	if !lookup.Found {
		lookup, err = r.Store.Get(ctx, r.SecretID, secretstore.StageCurrent, "")
		if err != nil {
			return protocol.Credentials{}, storeError("get master current", r.SecretID, err)
		}
	}
	if !lookup.Found {
		return protocol.Credentials{}, dberrors.ConfigError{
			Field:      "master_secret_id",
			Value:      r.SecretID,
			Message:    "master secret has no AWSPENDING or AWSCURRENT version",
			Suggestion: "Check MASTER_SECRET_ARN points at the master credential secret",
		}
	}

	creds := protocol.Credentials{
		Username: lookup.Payload.Username(),
		Password: lookup.Payload.Password(),
	}
	if creds.Username == "" || creds.Password == "" {
		return protocol.Credentials{}, dberrors.ConfigError{
			Field:   "master_secret_id",
			Value:   r.SecretID,
			Message: "incomplete master credentials: username and password are required",
		}
	}
	return creds, nil
}

func (r *StoreCredentialResolver) RotationInProgress(ctx context.Context) (bool, error) {
	lookup, err := r.Store.Get(ctx, r.SecretID, secretstore.StagePending, "")
	if err != nil {
		return false, storeError("get master pending", r.SecretID, err)
	}
	return lookup.Found, nil
}

// StaticCredentialResolver always returns the same credential
type StaticCredentialResolver protocol.Credentials

func (s StaticCredentialResolver) Resolve(context.Context) (protocol.Credentials, error) {
	return protocol.Credentials(s), nil
}

func (StaticCredentialResolver) RotationInProgress(context.Context) (bool, error) {
	return false, nil
}

func storeError(op, secretID string, err error) error {
	var se *dberrors.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &dberrors.StoreError{Op: op, SecretID: secretID, Err: err}
}

// endpointOf reads host and port from payload
func endpointOf(p secretstore.Payload, where string) (protocol.Endpoint, error) {
	if err := secretstore.ValidatePayload(p, where, secretstore.FieldHost, secretstore.FieldPort); err != nil {
		return protocol.Endpoint{}, err
	}
	port, err := p.Port()
	if err != nil {
		return protocol.Endpoint{}, dberrors.ConfigError{
			Field:   where + ".port",
			Value:   p[secretstore.FieldPort],
			Message: fmt.Sprintf("%v", err),
		}
	}
	return protocol.Endpoint{Host: p.Host(), Port: port}, nil
}
