package store

// schemaStatements are applied in order at open time. Additive-only: a new
// release only ever appends a new version here, never rewrites an old one
// (§4.4 "Schema upgrades are additive-only").
var schemaStatements = []struct {
	version int
	sql     string
}{
	{1, `CREATE TABLE IF NOT EXISTS items (
		collector_id TEXT NOT NULL,
		ts_start     INTEGER NOT NULL,
		ts_end       INTEGER NOT NULL,
		data_type    TEXT NOT NULL,
		url          TEXT NOT NULL,
		rough_size   INTEGER NOT NULL DEFAULT 0,
		exact_size   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collector_id, ts_start, data_type)
	)`},
	{2, `CREATE INDEX IF NOT EXISTS idx_items_ts_start ON items (ts_start)`},
	{3, `CREATE TABLE IF NOT EXISTS latest_files (
		collector_id TEXT NOT NULL,
		data_type    TEXT NOT NULL,
		ts_start     INTEGER NOT NULL,
		ts_end       INTEGER NOT NULL,
		url          TEXT NOT NULL,
		rough_size   INTEGER NOT NULL DEFAULT 0,
		exact_size   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collector_id, data_type)
	)`},
	{4, `CREATE TABLE IF NOT EXISTS meta (
		timestamp               INTEGER NOT NULL,
		update_duration_seconds REAL NOT NULL,
		inserted_count          INTEGER NOT NULL
	)`},
	{5, `CREATE INDEX IF NOT EXISTS idx_meta_timestamp ON meta (timestamp)`},
	{6, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`},
}
