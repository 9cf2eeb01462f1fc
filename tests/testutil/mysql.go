package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/systmms/dbrotate/pkg/protocol"
)

// MySQLTestEnv points integration tests at a running MySQL server.
//
// The server is configured through environment variables:
//
//	DBROTATE_TEST_MYSQL_ADDR      host:port, required
//	DBROTATE_TEST_MYSQL_USER      admin user, defaults to root
//	DBROTATE_TEST_MYSQL_PASSWORD  admin password
//	DBROTATE_TEST_MYSQL_CA        CA bundle that signed the server certificate, required
//
// Connections always use verified TLS, so the server certificate must carry the
// host name from DBROTATE_TEST_MYSQL_ADDR.
type MySQLTestEnv struct {
	t        *testing.T
	Endpoint protocol.Endpoint
	Admin    protocol.Credentials
	CABundle string
}

// StartMySQLEnv returns the configured server or skips the test
func StartMySQLEnv(t *testing.T) *MySQLTestEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	addr := os.Getenv("DBROTATE_TEST_MYSQL_ADDR")
	caBundle := os.Getenv("DBROTATE_TEST_MYSQL_CA")
	if addr == "" || caBundle == "" {
		t.Skip("DBROTATE_TEST_MYSQL_ADDR and DBROTATE_TEST_MYSQL_CA must be set")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("Invalid DBROTATE_TEST_MYSQL_ADDR %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Invalid port in DBROTATE_TEST_MYSQL_ADDR %q: %v", addr, err)
	}

	user := os.Getenv("DBROTATE_TEST_MYSQL_USER")
	if user == "" {
		user = "root"
	}

	return &MySQLTestEnv{
		t:        t,
		Endpoint: protocol.Endpoint{Host: host, Port: port},
		Admin:    protocol.Credentials{Username: user, Password: os.Getenv("DBROTATE_TEST_MYSQL_PASSWORD")},
		CABundle: caBundle,
	}
}

// Dialer returns a MySQL dialer trusting the configured CA bundle
func (e *MySQLTestEnv) Dialer() *protocol.MySQLDialer {
	return protocol.NewMySQLDialer(e.CABundle, 10*time.Second)
}

// Exec runs statements as the admin user and commits them
func (e *MySQLTestEnv) Exec(statements ...string) {
	e.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := e.Dialer().Connect(ctx, e.Endpoint, e.Admin)
	if err != nil {
		e.t.Fatalf("Failed to connect as %s: %v", e.Admin.Username, err)
	}
	defer func() { _ = conn.Close() }()

	for _, stmt := range statements {
		if err := conn.Exec(ctx, stmt); err != nil {
			e.t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
	if err := conn.Commit(); err != nil {
		e.t.Fatalf("Failed to commit: %v", err)
	}
}

// DropUserOnCleanup removes every host entry of user when the test ends
func (e *MySQLTestEnv) DropUserOnCleanup(user string) {
	e.t.Cleanup(func() {
		e.Exec("DROP USER IF EXISTS '" + user + "'@'%'")
	})
}

// UserExists reports whether user has an account on any host
func (e *MySQLTestEnv) UserExists(user string) bool {
	e.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := e.Dialer().Connect(ctx, e.Endpoint, e.Admin)
	if err != nil {
		e.t.Fatalf("Failed to connect as %s: %v", e.Admin.Username, err)
	}
	defer func() { _ = conn.Close() }()

	var count int
	if err := conn.Get(ctx, &count, "SELECT COUNT(*) FROM mysql.user WHERE user = ?", user); err != nil {
		e.t.Fatalf("Failed to query mysql.user: %v", err)
	}
	return count > 0
}

// RandomString returns a random lowercase hex suffix of n bytes, for unique
// user and schema names
func RandomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
