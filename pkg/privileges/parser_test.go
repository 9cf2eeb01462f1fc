package privileges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

func TestRegexParserParse(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		want      Grant
	}{
		{
			name:      "backtick quoted",
			statement: "GRANT SELECT, INSERT ON `orders`.* TO `app_user_1`@`%`",
			want:      Grant{Clause: "GRANT SELECT, INSERT ON `orders`.*", Username: "app_user_1", Host: "%"},
		},
		{
			name:      "single quoted with grant option",
			statement: "GRANT SELECT ON mydb.* TO 'hamasoron1'@'localhost' WITH GRANT OPTION",
			want: Grant{
				Clause:   "GRANT SELECT ON mydb.*",
				Username: "hamasoron1",
				Host:     "localhost",
				Suffix:   "WITH GRANT OPTION",
			},
		},
		{
			name:      "double quoted",
			statement: `GRANT ALL PRIVILEGES ON "shop".* TO "app"@"10.0.%"`,
			want:      Grant{Clause: `GRANT ALL PRIVILEGES ON "shop".*`, Username: "app", Host: "10.0.%"},
		},
		{
			name:      "unquoted",
			statement: "grant select on db.t1 to app_user_2@% ;",
			want:      Grant{Clause: "grant select on db.t1", Username: "app_user_2", Host: "%"},
		},
		{
			name:      "column privileges",
			statement: "GRANT SELECT (`id`, `name`) ON `crm`.`people` TO `reader`@`%`",
			want:      Grant{Clause: "GRANT SELECT (`id`, `name`) ON `crm`.`people`", Username: "reader", Host: "%"},
		},
		{
			name:      "role grant",
			statement: "GRANT `app_role`@`%` TO `app_user_1`@`%`",
			want:      Grant{Clause: "GRANT `app_role`@`%`", Username: "app_user_1", Host: "%"},
		},
		{
			name:      "hyphenated user",
			statement: "GRANT SELECT ON `db`.* TO `svc-app`@`%`",
			want:      Grant{Clause: "GRANT SELECT ON `db`.*", Username: "svc-app", Host: "%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RegexParser{}.Parse(tt.statement)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegexParserRejects(t *testing.T) {
	for _, stmt := range []string{
		"",
		"REVOKE SELECT ON db.* FROM 'u'@'%'",
		"GRANT SELECT ON db.*",
		"SELECT 1",
	} {
		_, err := RegexParser{}.Parse(stmt)
		require.Error(t, err, stmt)
		assert.True(t, dberrors.IsParse(err))
		assert.Contains(t, err.Error(), stmt)
	}
}

func TestGrantRetargetRoundTrip(t *testing.T) {
	g, err := RegexParser{}.Parse("GRANT SELECT, INSERT ON `orders`.* TO `app_user_1`@`%` WITH GRANT OPTION")
	require.NoError(t, err)

	out := g.Retarget("app_user_2")
	assert.Equal(t, "GRANT SELECT, INSERT ON `orders`.* TO 'app_user_2'@'%' WITH GRANT OPTION", out.Statement())
	assert.Equal(t, "app_user_1", g.Username)

	reparsed, err := RegexParser{}.Parse(out.Statement())
	require.NoError(t, err)
	assert.Equal(t, out, reparsed)
}

func TestIsUsageOnly(t *testing.T) {
	assert.True(t, IsUsageOnly("GRANT USAGE ON *.* TO `app_user_1`@`%`"))
	assert.True(t, IsUsageOnly("grant usage on *.* to 'x'@'%'"))
	assert.False(t, IsUsageOnly("GRANT USAGE ON `db`.* TO `app_user_1`@`%`"))
	assert.False(t, IsUsageOnly("GRANT SELECT ON *.* TO `app_user_1`@`%`"))
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, "'o''brien'", QuoteAccount("o'brien"))
	assert.Equal(t, `'a\\b'`, QuoteAccount(`a\b`))
	assert.Equal(t, "`we``ird`", QuoteIdentifier("we`ird"))
}
