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

CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	subject           TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL,
	is_important      INTEGER NOT NULL DEFAULT 0 CHECK(is_important IN (0, 1)),
	importance_reason TEXT,
	status            TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'replied', 'reminded')),
	created_at        DATETIME NOT NULL,
	reminder_sent_at  DATETIME,
	replied_at        DATETIME
);

CREATE TABLE IF NOT EXISTS reminders (
	id       TEXT PRIMARY KEY,
	email_id TEXT NOT NULL REFERENCES emails(id),
	message  TEXT NOT NULL,
	sent_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_created_at ON emails(created_at);
CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_reminders_sent_at ON reminders(sent_at);
CREATE INDEX IF NOT EXISTS idx_reminders_email_id ON reminders(email_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE emails ADD COLUMN external_id TEXT NOT NULL DEFAULT '';

CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_external_id
	ON emails(external_id) WHERE external_id <> '';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
