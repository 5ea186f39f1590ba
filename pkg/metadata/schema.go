package metadata

// schema is the Record Store's SQL source of truth. SQLite
// is the reference backend, matching pkg/share/manager/sql's sqlite3-backed
// test suite; the statements are plain ANSI-ish SQL so the same schema
// works unchanged against the MySQL/Postgres driver a production deployment
// would swap in.
const schema = `
CREATE TABLE IF NOT EXISTS file_paths (
	path_id         TEXT PRIMARY KEY,
	virtual_path    TEXT NOT NULL,
	zone_id         TEXT NOT NULL,
	backend_id      TEXT NOT NULL,
	physical_path   TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	content_hash    TEXT NOT NULL,
	file_type       TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	deleted_at      TIMESTAMP,
	current_version INTEGER NOT NULL DEFAULT 1,
	owner_id        TEXT,
	locked_by       TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_file_paths_zone_path_live
	ON file_paths (zone_id, virtual_path)
	WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_file_paths_zone ON file_paths (zone_id);
CREATE INDEX IF NOT EXISTS idx_file_paths_hash ON file_paths (content_hash);
CREATE INDEX IF NOT EXISTS idx_file_paths_locked_by ON file_paths (locked_by);

CREATE TABLE IF NOT EXISTS version_history (
	version_id        TEXT PRIMARY KEY,
	resource_type      TEXT NOT NULL,
	resource_id        TEXT NOT NULL,
	version_number     INTEGER NOT NULL,
	content_hash       TEXT NOT NULL,
	size_bytes         INTEGER NOT NULL DEFAULT 0,
	mime_type          TEXT,
	parent_version_id  TEXT,
	source_type        TEXT NOT NULL,
	change_reason      TEXT,
	created_by         TEXT,
	created_at         TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_version_history_unique
	ON version_history (resource_type, resource_id, version_number);

CREATE TABLE IF NOT EXISTS operation_log (
	operation_id       TEXT PRIMARY KEY,
	operation_type      TEXT NOT NULL,
	zone_id             TEXT NOT NULL,
	agent_id            TEXT,
	path                TEXT NOT NULL,
	new_path            TEXT,
	snapshot_hash       TEXT,
	metadata_snapshot   TEXT,
	status              TEXT NOT NULL,
	error_message       TEXT,
	created_at          TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operation_log_zone ON operation_log (zone_id);
CREATE INDEX IF NOT EXISTS idx_operation_log_path ON operation_log (path);
`

// Migrate creates the Record Store schema if it does not already exist.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
