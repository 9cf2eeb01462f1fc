package protocol

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// DefaultConnectTimeout bounds connect, read and write when none is configured
const DefaultConnectTimeout = 30 * time.Second

// MySQLDialer connects to MySQL-compatible servers (Aurora MySQL, RDS MySQL)
// over TLS.
type MySQLDialer struct {
	// CABundlePath is an optional PEM trust bundle; empty means system roots
	CABundlePath string
	// Timeout applies to connect, read and write
	Timeout time.Duration

	// Open builds the *sql.DB for a driver config. Tests replace it.
	Open func(cfg *mysql.Config) (*sql.DB, error)
}

// NewMySQLDialer creates a dialer with the given trust bundle and timeout
func NewMySQLDialer(caBundlePath string, timeout time.Duration) *MySQLDialer {
	return &MySQLDialer{CABundlePath: caBundlePath, Timeout: timeout}
}

// Config builds the driver configuration for one session
func (d *MySQLDialer) Config(endpoint Endpoint, creds Credentials) (*mysql.Config, error) {
	tlsConfig, err := TLSConfig(endpoint.Host, d.CABundlePath)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	cfg := mysql.NewConfig()
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = endpoint.Address()
	cfg.TLS = tlsConfig
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	cfg.WriteTimeout = timeout
	// Account names cannot be bound by server-side prepared statements.
	cfg.InterpolateParams = true
	return cfg, nil
}

// Connect opens a session and starts its transaction
func (d *MySQLDialer) Connect(ctx context.Context, endpoint Endpoint, creds Credentials) (Conn, error) {
	cfg, err := d.Config(endpoint, creds)
	if err != nil {
		return nil, err
	}

	open := d.Open
	if open == nil {
		open = openMySQL
	}
	db, err := open(cfg)
	if err != nil {
		return nil, Classify(err, "open", endpoint, creds.Username)
	}
	db.SetMaxOpenConns(1)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(dialCtx); err != nil {
		_ = db.Close()
		return nil, Classify(err, "connect", endpoint, creds.Username)
	}

	xdb := sqlx.NewDb(db, "mysql")
	tx, err := xdb.BeginTxx(ctx, nil)
	if err != nil {
		_ = xdb.Close()
		return nil, Classify(err, "begin transaction", endpoint, creds.Username)
	}

	return &mysqlConn{db: xdb, tx: tx, endpoint: endpoint, user: creds.Username}, nil
}

func openMySQL(cfg *mysql.Config) (*sql.DB, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

type mysqlConn struct {
	db       *sqlx.DB
	tx       *sqlx.Tx
	endpoint Endpoint
	user     string
	done     bool
}

func (c *mysqlConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.tx.ExecContext(ctx, query, args...)
	return Classify(err, "exec", c.endpoint, c.user)
}

func (c *mysqlConn) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return Classify(c.tx.GetContext(ctx, dest, query, args...), "query", c.endpoint, c.user)
}

func (c *mysqlConn) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return Classify(c.tx.SelectContext(ctx, dest, query, args...), "query", c.endpoint, c.user)
}

func (c *mysqlConn) Commit() error {
	c.done = true
	return Classify(c.tx.Commit(), "commit", c.endpoint, c.user)
}

func (c *mysqlConn) Close() error {
	if !c.done {
		_ = c.tx.Rollback()
		c.done = true
	}
	return c.db.Close()
}
