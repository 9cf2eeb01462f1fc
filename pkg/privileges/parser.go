// Package privileges copies database grants from one account to another.
package privileges

import (
	"fmt"
	"regexp"
	"strings"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// Grant is one parsed GRANT statement
type Grant struct {
	// Clause is everything before TO, e.g. "GRANT SELECT, INSERT ON `orders`.*"
	Clause   string
	Username string
	Host     string
	// Suffix holds trailing clauses such as "WITH GRANT OPTION"
	Suffix string
}

// Statement renders the grant as executable SQL
func (g Grant) Statement() string {
	stmt := fmt.Sprintf("%s TO %s@%s", g.Clause, QuoteAccount(g.Username), QuoteAccount(g.Host))
	if g.Suffix != "" {
		stmt += " " + g.Suffix
	}
	return stmt
}

// Retarget returns a copy of the grant issued to user on the same host
func (g Grant) Retarget(user string) Grant {
	g.Username = user
	return g
}

// Parser turns a grant description into a Grant
type Parser interface {
	Parse(statement string) (Grant, error)
}

// An account part may be quoted with ', " or ` or left bare.
func accountPattern(bare string) string {
	return `(?:'([^']*)'|"([^"]*)"|` + "`([^`]*)`" + `|(` + bare + `))`
}

var grantPattern = regexp.MustCompile(`(?is)^\s*(GRANT\s+.+?)\s+TO\s+` +
	accountPattern(`[^\s@'"`+"`"+`]+`) + `@` +
	accountPattern(`[^\s'"`+"`"+`]+`) +
	`(.*?)\s*;?\s*$`)

// RegexParser parses SHOW GRANTS output
type RegexParser struct{}

// Parse implements Parser
func (RegexParser) Parse(statement string) (Grant, error) {
	m := grantPattern.FindStringSubmatch(statement)
	if m == nil {
		return Grant{}, &dberrors.ParseError{Statement: statement}
	}

	return Grant{
		Clause:   strings.TrimSpace(m[1]),
		Username: firstGroup(m[2:6]),
		Host:     firstGroup(m[6:10]),
		Suffix:   strings.TrimSpace(m[10]),
	}, nil
}

func firstGroup(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}

// IsUsageOnly reports whether the statement is the placeholder
// "GRANT USAGE ON *.*" every account carries
func IsUsageOnly(statement string) bool {
	return strings.Contains(strings.ToUpper(statement), "GRANT USAGE ON *.*")
}

// QuoteAccount quotes a user or host name for use in a GRANT statement
func QuoteAccount(name string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), "'", "''") + "'"
}

// QuoteIdentifier quotes a schema name with backticks
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
