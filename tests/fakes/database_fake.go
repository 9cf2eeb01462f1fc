package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/pkg/privileges"
	"github.com/systmms/dbrotate/pkg/protocol"
)

// FakeUser is an account on host '%'
type FakeUser struct {
	Password string
	// Grants are rendered statements as SHOW GRANTS would return them,
	// excluding the implicit USAGE grant
	Grants []string
}

// FakeServer simulates the parts of a MySQL server the rotation engine
// touches: accounts, passwords and grants. It implements protocol.Dialer.
type FakeServer struct {
	mu sync.Mutex

	Users map[string]*FakeUser

	// ConnectErrors are returned by successive Connect calls before normal
	// authentication applies
	ConnectErrors []error
	// ConnectFunc overrides Connect entirely when set
	ConnectFunc func(ctx context.Context, endpoint protocol.Endpoint, creds protocol.Credentials) (protocol.Conn, error)
	// FailOn returns an error for a statement before it runs
	FailOn func(query string, args []interface{}) error

	// Recorded calls for verification
	Connects   []protocol.Credentials
	Endpoints  []protocol.Endpoint
	Statements []string
	Commits    int
	Closes     int
	Flushes    int
}

// NewFakeServer creates a server with the given user -> password accounts
func NewFakeServer(accounts map[string]string) *FakeServer {
	s := &FakeServer{Users: map[string]*FakeUser{}}
	for user, password := range accounts {
		s.Users[user] = &FakeUser{Password: password}
	}
	return s
}

// AddUser creates or replaces an account with grants
func (s *FakeServer) AddUser(user, password string, grants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[user] = &FakeUser{Password: password, Grants: grants}
}

// Password returns the password of user and whether the user exists
func (s *FakeServer) Password(user string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[user]
	if !ok {
		return "", false
	}
	return u.Password, true
}

// Grants returns the grants held by user
func (s *FakeServer) Grants(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[user]
	if !ok {
		return nil
	}
	return append([]string(nil), u.Grants...)
}

// ConnectCount returns how many times Connect was called
func (s *FakeServer) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Connects)
}

// Connect authenticates creds against the simulated accounts
func (s *FakeServer) Connect(ctx context.Context, endpoint protocol.Endpoint, creds protocol.Credentials) (protocol.Conn, error) {
	s.mu.Lock()
	s.Connects = append(s.Connects, creds)
	s.Endpoints = append(s.Endpoints, endpoint)
	connectFunc := s.ConnectFunc
	var queued error
	if len(s.ConnectErrors) > 0 {
		queued = s.ConnectErrors[0]
		s.ConnectErrors = s.ConnectErrors[1:]
	}
	s.mu.Unlock()

	if connectFunc != nil {
		return connectFunc(ctx, endpoint, creds)
	}
	if queued != nil {
		return nil, queued
	}
	if err := ctx.Err(); err != nil {
		return nil, &dberrors.ConnectivityError{Host: endpoint.Host, Port: endpoint.Port, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[creds.Username]
	if !ok || u.Password != creds.Password {
		return nil, &dberrors.AuthError{
			User: creds.Username,
			Host: endpoint.Host,
			Code: protocol.CodeAccessDenied,
			Err:  fmt.Errorf("Access denied for user '%s'@'%s'", creds.Username, endpoint.Host),
		}
	}
	return &FakeConn{server: s}, nil
}

// FakeConn is a session on FakeServer. Account statements (CREATE USER,
// ALTER USER, DROP USER, GRANT) take effect as soon as they run, because MySQL
// commits them implicitly; Commit and Close only count calls.
type FakeConn struct {
	server *FakeServer
	closed bool
}

func (c *FakeConn) check(query string, args []interface{}) error {
	s := c.server
	s.mu.Lock()
	s.Statements = append(s.Statements, query)
	failOn := s.FailOn
	s.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if failOn != nil {
		return failOn(query, args)
	}
	return nil
}

func (c *FakeConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	if err := c.check(query, args); err != nil {
		return err
	}

	s := c.server
	switch {
	case query == "CREATE USER ?@'%' IDENTIFIED BY ?":
		user, password := argString(args, 0), argString(args, 1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.Users[user]; exists {
			return &dberrors.DatabaseError{Op: "exec", Code: 1396, Err: fmt.Errorf("Operation CREATE USER failed for '%s'@'%%'", user)}
		}
		s.Users[user] = &FakeUser{Password: password}
		return nil

	case query == "ALTER USER ?@'%' IDENTIFIED BY ?":
		user, password := argString(args, 0), argString(args, 1)
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.Users[user]
		if !ok {
			return &dberrors.DatabaseError{Op: "exec", Code: 1396, Err: fmt.Errorf("Operation ALTER USER failed for '%s'@'%%'", user)}
		}
		u.Password = password
		return nil

	case query == "DROP USER IF EXISTS ?@'%'":
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.Users, argString(args, 0))
		return nil

	case query == "FLUSH PRIVILEGES":
		s.mu.Lock()
		s.Flushes++
		s.mu.Unlock()
		return nil

	case strings.HasPrefix(strings.ToUpper(query), "GRANT "):
		stmt := query
		if len(args) > 0 {
			stmt = strings.Replace(stmt, "?", privileges.QuoteAccount(argString(args, 0)), 1)
		}
		g, err := privileges.RegexParser{}.Parse(stmt)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.Users[g.Username]
		if !ok {
			return &dberrors.DatabaseError{Op: "exec", Code: protocol.CodeNoSuchGrant, Err: fmt.Errorf("There is no such grant defined for user '%s' on host '%%'", g.Username)}
		}
		u.Grants = append(u.Grants, g.Statement())
		return nil
	}
	return fmt.Errorf("fake server: unsupported statement %q", query)
}

func (c *FakeConn) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := c.check(query, args); err != nil {
		return err
	}

	n, ok := dest.(*int)
	if !ok {
		return fmt.Errorf("fake server: Get expects *int, got %T", dest)
	}

	switch query {
	case "SELECT 1":
		*n = 1
		return nil
	case "SELECT COUNT(*) FROM mysql.user WHERE user = ? AND host = '%'":
		c.server.mu.Lock()
		_, exists := c.server.Users[argString(args, 0)]
		c.server.mu.Unlock()
		*n = 0
		if exists {
			*n = 1
		}
		return nil
	}
	return fmt.Errorf("fake server: unsupported query %q", query)
}

func (c *FakeConn) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := c.check(query, args); err != nil {
		return err
	}

	rows, ok := dest.(*[]string)
	if !ok {
		return fmt.Errorf("fake server: Select expects *[]string, got %T", dest)
	}
	if query != "SHOW GRANTS FOR ?@'%'" {
		return fmt.Errorf("fake server: unsupported query %q", query)
	}

	user := argString(args, 0)
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	u, exists := c.server.Users[user]
	if !exists {
		return &dberrors.DatabaseError{
			Op:   "select",
			Code: protocol.CodeNoSuchGrant,
			Err:  fmt.Errorf("There is no such grant defined for user '%s' on host '%%'", user),
		}
	}
	*rows = append([]string{fmt.Sprintf("GRANT USAGE ON *.* TO `%s`@`%%`", user)}, u.Grants...)
	return nil
}

func (c *FakeConn) Commit() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commits++
	return nil
}

func (c *FakeConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.server.mu.Lock()
	c.server.Closes++
	c.server.mu.Unlock()
	return nil
}

// UserNames returns the account names in sorted order
func (s *FakeServer) UserNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.Users))
	for name := range s.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func argString(args []interface{}, i int) string {
	if i >= len(args) {
		return ""
	}
	return fmt.Sprint(args[i])
}
