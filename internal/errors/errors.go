package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the operator with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a missing or invalid configuration value or secret field.
// It is fatal for the current invocation and never retried locally.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StoreError is an unexpected failure talking to the secret version store.
type StoreError struct {
	Op       string
	SecretID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("secret store %s failed for %s: %v", e.Op, e.SecretID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// AuthError means the database rejected the supplied credentials.
type AuthError struct {
	User string
	Host string
	Code uint16
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for user %q on %s (code %d): %v", e.User, e.Host, e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ConnectivityError covers unreachable, unknown, or dropped database hosts and
// TLS handshake failures. It is never explained by password propagation.
type ConnectivityError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot connect to database at %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// DatabaseError is any other error reported by the database server.
type DatabaseError struct {
	Op   string
	Code uint16
	Err  error
}

func (e *DatabaseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("database %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("database %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// ParseError reports a grant statement the parser does not recognize.
type ParseError struct {
	Statement string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse GRANT statement: %s", e.Statement)
}

// IsConfig reports whether err is (or wraps) a ConfigError
func IsConfig(err error) bool {
	var target ConfigError
	return errors.As(err, &target)
}

// IsAuth reports whether err is (or wraps) an AuthError
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsConnectivity reports whether err is (or wraps) a ConnectivityError
func IsConnectivity(err error) bool {
	var target *ConnectivityError
	return errors.As(err, &target)
}

// IsParse reports whether err is (or wraps) a ParseError
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsDatabaseCode reports whether err wraps a DatabaseError with the given server code
func IsDatabaseCode(err error, code uint16) bool {
	var target *DatabaseError
	return errors.As(err, &target) && target.Code == code
}

// MissingFields builds the ConfigError used when a secret payload lacks required fields
func MissingFields(where string, fields []string) ConfigError {
	return ConfigError{
		Field:      where,
		Message:    fmt.Sprintf("required fields are missing: %s", strings.Join(fields, ", ")),
		Suggestion: "Ensure the secret JSON contains host, port, username and password",
	}
}

// Suggest returns an operator hint for the error, or "" when none applies
func Suggest(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuth(err):
		return "The database rejected the credentials. If a master rotation is running, re-invoke the step once it completes"
	case IsConnectivity(err):
		return "Check the host, port, security groups and the CA bundle configured in DB_CA_BUNDLE_PATH"
	case IsParse(err):
		return "Review the grants of the current user with SHOW GRANTS and simplify unsupported clauses"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "AccessDenied") {
		return "Check IAM permissions for secretsmanager:GetSecretValue, PutSecretValue, DescribeSecret and UpdateSecretVersionStage"
	}
	if strings.Contains(errStr, "ResourceNotFoundException") {
		return "Verify the secret ARN and region"
	}
	return ""
}
