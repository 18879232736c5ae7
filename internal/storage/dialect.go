// ABOUTME: Engine-specific SQL for the entries table and schema listing
// ABOUTME: One Dialect per backend, all using ? placeholders

package storage

// Dialect holds the engine-specific SQL used above the backend boundary.
// All statements use ? placeholders.
type Dialect struct {
	Name string

	// CreateEntriesTable creates the key/value table if it does not exist.
	CreateEntriesTable string
	// UpsertEntry takes (key, value, updated_at).
	UpsertEntry string
	// ListTables returns one table_name column.
	ListTables string
}

// SQLiteDialect is used by the file backend.
var SQLiteDialect = Dialect{
	Name: "sqlite",
	CreateEntriesTable: `
		CREATE TABLE IF NOT EXISTS entries (
			entry_key   TEXT PRIMARY KEY,
			entry_value TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
	UpsertEntry: `
		INSERT INTO entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entry_key) DO UPDATE SET
			entry_value = excluded.entry_value,
			updated_at = excluded.updated_at`,
	ListTables: `
		SELECT name AS table_name FROM sqlite_master
		WHERE type = 'table' AND substr(name, 1, 7) <> 'sqlite_'
		ORDER BY name`,
}

// MySQLDialect is used by the network backend. Keys compare byte for byte,
// as they do in SQLite. The upsert needs MySQL 8.0.19 or later.
var MySQLDialect = Dialect{
	Name: "mysql",
	CreateEntriesTable: `
		CREATE TABLE IF NOT EXISTS entries (
			entry_key   VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
			entry_value LONGTEXT NOT NULL,
			updated_at  VARCHAR(40) NOT NULL
		) DEFAULT CHARSET = utf8mb4`,
	UpsertEntry: `
		INSERT INTO entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?) AS new
		ON DUPLICATE KEY UPDATE
			entry_value = new.entry_value,
			updated_at = new.updated_at`,
	ListTables: `
		SELECT table_name AS table_name FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_name`,
}
