package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Each version must
// be sequential starting from 1, and the SQL must run on both SQLite and
// PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS mail_accounts (
	id                 TEXT PRIMARY KEY,
	address            TEXT NOT NULL UNIQUE,
	domain             TEXT NOT NULL,
	encrypted_password TEXT NOT NULL DEFAULT '',
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	description        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mail_accounts_domain ON mail_accounts(domain);
`,
	},
}
