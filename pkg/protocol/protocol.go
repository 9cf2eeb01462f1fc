// Package protocol is the database side of a rotation: it opens verified TLS
// sessions for a given identity and runs statements inside a single
// transaction.
//
// The MySQL implementation classifies every failure into the rotation error
// taxonomy so callers can decide what is worth retrying:
//
//   - server code 1045 (access denied) becomes an AuthError
//   - network, DNS, dropped-connection, TLS and timeout failures become a
//     ConnectivityError
//   - any other server code becomes a DatabaseError carrying that code
package protocol

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint addresses a database server
type Endpoint struct {
	Host string
	Port int
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// Credentials identify the database account to connect as
type Credentials struct {
	Username string
	Password string
}

// GoString keeps the password out of %#v output
func (c Credentials) GoString() string {
	return fmt.Sprintf("protocol.Credentials{Username:%q, Password:[REDACTED]}", c.Username)
}

// Dialer opens database sessions
type Dialer interface {
	Connect(ctx context.Context, endpoint Endpoint, creds Credentials) (Conn, error)
}

// Conn is an open session. Every statement runs in the transaction started by
// Connect; Commit ends it and Close releases the session, rolling back anything
// not committed.
type Conn interface {
	// Exec runs a statement that returns no rows
	Exec(ctx context.Context, query string, args ...interface{}) error
	// Get scans a single row into dest
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	// Select scans all rows into dest, which must be a pointer to a slice
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Commit() error
	Close() error
}
