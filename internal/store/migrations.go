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

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	folder      TEXT NOT NULL DEFAULT 'INBOX',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	from_addr   TEXT NOT NULL,
	to_addrs    TEXT NOT NULL DEFAULT '[]',
	date        DATETIME NOT NULL,
	category    TEXT NOT NULL DEFAULT 'Uncategorized',
	indexed_at  DATETIME NOT NULL,
	uid         INTEGER NOT NULL,
	flags       TEXT NOT NULL DEFAULT '[]',
	size        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	from_addr  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_message_id ON leads(message_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_account_category
	ON messages(account_id, category);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
