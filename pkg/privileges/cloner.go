package privileges

import (
	"context"
	"fmt"
	"strings"

	dberrors "github.com/systmms/dbrotate/internal/errors"
	"github.com/systmms/dbrotate/internal/logging"
	"github.com/systmms/dbrotate/pkg/protocol"
)

// DefaultPrivileges are granted when there is no source account to copy from
var DefaultPrivileges = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP"}

// Result describes what Clone did
type Result struct {
	// Bootstrapped is set when the source account did not exist and the
	// default privileges were granted instead
	Bootstrapped bool
	// Applied lists the statements executed against the target
	Applied []string
}

// Cloner copies the grants of one account onto another. Only accounts on
// host '%' are considered as a source.
type Cloner struct {
	Parser            Parser
	DefaultPrivileges []string
	AllowBootstrap    bool
	Logger            *logging.Logger
}

// NewCloner creates a cloner using the regex parser
func NewCloner(defaultPrivileges []string, allowBootstrap bool, logger *logging.Logger) *Cloner {
	if len(defaultPrivileges) == 0 {
		defaultPrivileges = DefaultPrivileges
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cloner{
		Parser:            RegexParser{},
		DefaultPrivileges: defaultPrivileges,
		AllowBootstrap:    allowBootstrap,
		Logger:            logger,
	}
}

// Clone grants target everything source@'%' holds. When source does not exist
// yet, target receives the default privileges on database instead. All grants
// are parsed before any is applied, so a statement the parser rejects leaves
// the target untouched.
func (c *Cloner) Clone(ctx context.Context, conn protocol.Conn, source, target, database string) (Result, error) {
	exists, err := c.sourceExists(ctx, conn, source)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return c.bootstrap(ctx, conn, source, target, database)
	}

	c.Logger.Info("Cloning privileges from '%s' to '%s'", source, target)

	var rows []string
	if err := conn.Select(ctx, &rows, "SHOW GRANTS FOR ?@'%'", source); err != nil {
		return Result{}, fmt.Errorf("failed to read grants of %s: %w", source, err)
	}

	parser := c.Parser
	if parser == nil {
		parser = RegexParser{}
	}

	var grants []Grant
	for _, stmt := range rows {
		if IsUsageOnly(stmt) {
			c.Logger.Debug("Skipping USAGE grant: %s", stmt)
			continue
		}
		g, err := parser.Parse(stmt)
		if err != nil {
			return Result{}, err
		}
		grants = append(grants, g.Retarget(target))
	}

	if len(grants) == 0 {
		c.Logger.Warn("No grants found for user '%s'", source)
		return Result{}, nil
	}

	var result Result
	for _, g := range grants {
		stmt := g.Statement()
		c.Logger.Info("Applying grant: %s", stmt)
		if err := conn.Exec(ctx, stmt); err != nil {
			return result, fmt.Errorf("failed to apply grant to %s: %w", target, err)
		}
		result.Applied = append(result.Applied, stmt)
	}

	c.Logger.Info("Cloned %d grant(s) from '%s' to '%s'", len(result.Applied), source, target)
	return result, nil
}

// HasGrants reports whether user@'%' holds anything beyond the implicit USAGE
// grant
func (c *Cloner) HasGrants(ctx context.Context, conn protocol.Conn, user string) (bool, error) {
	var rows []string
	if err := conn.Select(ctx, &rows, "SHOW GRANTS FOR ?@'%'", user); err != nil {
		return false, fmt.Errorf("failed to read grants of %s: %w", user, err)
	}
	for _, stmt := range rows {
		if !IsUsageOnly(stmt) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Cloner) sourceExists(ctx context.Context, conn protocol.Conn, source string) (bool, error) {
	var count int
	if err := conn.Get(ctx, &count, "SELECT COUNT(*) FROM mysql.user WHERE user = ? AND host = '%'", source); err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", source, err)
	}
	return count > 0, nil
}

func (c *Cloner) bootstrap(ctx context.Context, conn protocol.Conn, source, target, database string) (Result, error) {
	if !c.AllowBootstrap {
		return Result{}, dberrors.ConfigError{
			Field:      "database.allow_bootstrap",
			Value:      false,
			Message:    fmt.Sprintf("user '%s'@'%%' does not exist and bootstrap is disabled", source),
			Suggestion: "Create the user by hand or set ALLOW_BOOTSTRAP=true for the first rotation",
		}
	}
	if database == "" {
		return Result{}, dberrors.ConfigError{
			Field:      "database",
			Message:    "a database name is required for initial privilege setup",
			Suggestion: "Set the 'database' field in the secret",
		}
	}

	c.Logger.Warn("Source user '%s' does not exist in database; applying default privileges to '%s'", source, target)

	stmt := fmt.Sprintf("GRANT %s ON %s.* TO ?@'%%'", strings.Join(c.DefaultPrivileges, ", "), QuoteIdentifier(database))
	if err := conn.Exec(ctx, stmt, target); err != nil {
		return Result{}, fmt.Errorf("failed to apply default privileges to %s: %w", target, err)
	}
	if err := conn.Exec(ctx, "FLUSH PRIVILEGES"); err != nil {
		return Result{}, fmt.Errorf("failed to flush privileges: %w", err)
	}

	c.Logger.Info("Applied default privileges (%s) to '%s' on database '%s'",
		strings.Join(c.DefaultPrivileges, ","), target, database)
	return Result{Bootstrapped: true, Applied: []string{stmt}}, nil
}
