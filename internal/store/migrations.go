package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS composition_spaces (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	client_token       TEXT NOT NULL DEFAULT '',
	sender             TEXT NOT NULL DEFAULT '',
	reply_sender       TEXT NOT NULL DEFAULT '',
	to_recipients      TEXT NOT NULL DEFAULT '[]',
	cc_recipients      TEXT NOT NULL DEFAULT '[]',
	bcc_recipients     TEXT NOT NULL DEFAULT '[]',
	subject            TEXT NOT NULL DEFAULT '',
	content            TEXT NOT NULL DEFAULT '',
	content_type       TEXT NOT NULL DEFAULT 'text/plain',
	read_receipt       INTEGER NOT NULL DEFAULT 0,
	priority           TEXT NOT NULL DEFAULT 'normal',
	security           TEXT NOT NULL DEFAULT '{}',
	shared_attachments TEXT NOT NULL DEFAULT '{}',
	attachments        TEXT NOT NULL DEFAULT '[]',
	origin             TEXT NOT NULL DEFAULT 'new',
	created_at         DATETIME NOT NULL,
	last_modified      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spaces_owner
	ON composition_spaces(account_id, user_id);
CREATE INDEX IF NOT EXISTS idx_spaces_last_modified
	ON composition_spaces(last_modified);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
