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

CREATE TABLE IF NOT EXISTS key_points (
	message_id   TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	labels       TEXT NOT NULL DEFAULT '[]',
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	timestamp    DATETIME NOT NULL,
	processed_at DATETIME NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	deleted_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_key_points_processed_at ON key_points(processed_at DESC);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_key_points_deleted_at
	ON key_points(deleted_at) WHERE deleted_at IS NOT NULL;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
