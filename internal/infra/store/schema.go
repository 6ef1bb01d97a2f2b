package store

const schemaSessions = `
CREATE TABLE IF NOT EXISTS listening_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	library_item_id TEXT NOT NULL,
	media_id TEXT,
	session_start INTEGER NOT NULL,
	session_end INTEGER,
	start_pos REAL NOT NULL DEFAULT 0,
	current_pos REAL NOT NULL DEFAULT 0,
	end_pos REAL NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	time_listening REAL NOT NULL DEFAULT 0,
	playback_rate REAL NOT NULL DEFAULT 1,
	volume REAL NOT NULL DEFAULT 1,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	last_sync_attempt INTEGER,
	last_sync_time INTEGER,
	server_session_id TEXT,
	sync_error TEXT
);`

const schemaSessionsIndexes = `
CREATE INDEX IF NOT EXISTS idx_sessions_user ON listening_sessions(user_id, session_start DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_unsynced ON listening_sessions(is_synced, session_start);
CREATE INDEX IF NOT EXISTS idx_sessions_item ON listening_sessions(library_item_id);
`

const schemaSnapshots = `
CREATE TABLE IF NOT EXISTS progress_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	current_pos REAL NOT NULL,
	progress REAL NOT NULL,
	playback_rate REAL NOT NULL DEFAULT 1,
	volume REAL NOT NULL DEFAULT 1,
	chapter_id TEXT,
	is_playing INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES listening_sessions(id) ON DELETE CASCADE
);`

const schemaSnapshotsIndexes = `
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON progress_snapshots(session_id, created_at DESC);
`

var schemaStatements = []string{
	schemaSessions,
	schemaSessionsIndexes,
	schemaSnapshots,
	schemaSnapshotsIndexes,
}
