package db

// SchemaVersion is the current database schema version
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    start_time INTEGER NOT NULL,
    end_time INTEGER,
    duration INTEGER,
    intensity INTEGER,
    notes TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    archived INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_events_start_time ON events(start_time);
CREATE INDEX IF NOT EXISTS idx_events_sync_status ON events(sync_status);
CREATE INDEX IF NOT EXISTS idx_events_archived ON events(archived);

-- seq gives strict FIFO order independent of clock skew
CREATE TABLE IF NOT EXISTS outbound_queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    event_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    next_attempt_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outbound_queue_status ON outbound_queue(status);

CREATE TABLE IF NOT EXISTS history_entries (
    position INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    action_type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    event_ids TEXT NOT NULL,
    before_data TEXT NOT NULL,
    after_data TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema
	{
		Version:     2,
		Description: "Record last failure reason on queued operations",
		SQL:         `ALTER TABLE outbound_queue ADD COLUMN last_error TEXT NOT NULL DEFAULT '';`,
	},
}
