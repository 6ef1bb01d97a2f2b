// Package store provides the on-device SQLite persistence for listening
// sessions and progress snapshots.
package store

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/pennal/shelfplayer/internal/domain/session"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable row store consumed by the session synchronizer and
// the restore path.
type Store interface {
	SaveSession(s *session.ListeningSession) error
	GetSession(id string) (*session.ListeningSession, error)
	UnsyncedSessions(userID string) ([]*session.ListeningSession, error)
	LastSession(userID string) (*session.ListeningSession, error)
	SaveSnapshot(snap session.ProgressSnapshot) error
	LatestSnapshot(sessionID string) (*session.ProgressSnapshot, error)
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent session pushes.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "apply schema")
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession inserts or updates a session row.
func (s *SQLiteStore) SaveSession(ls *session.ListeningSession) error {
	_, err := s.db.Exec(`
		INSERT INTO listening_sessions (
			id, user_id, library_item_id, media_id, session_start, session_end,
			start_pos, current_pos, end_pos, duration, time_listening,
			playback_rate, volume, is_synced, sync_attempts,
			last_sync_attempt, last_sync_time, server_session_id, sync_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_end=excluded.session_end,
			current_pos=excluded.current_pos,
			end_pos=excluded.end_pos,
			duration=excluded.duration,
			time_listening=excluded.time_listening,
			playback_rate=excluded.playback_rate,
			volume=excluded.volume,
			is_synced=excluded.is_synced,
			sync_attempts=excluded.sync_attempts,
			last_sync_attempt=excluded.last_sync_attempt,
			last_sync_time=excluded.last_sync_time,
			server_session_id=excluded.server_session_id,
			sync_error=excluded.sync_error
	`,
		ls.ID, ls.UserID, ls.LibraryItemID, ls.MediaID,
		ls.SessionStart.Unix(), nullUnix(ls.SessionEnd),
		ls.StartTime, ls.CurrentTime, ls.EndTime, ls.Duration, ls.TimeListening,
		ls.PlaybackRate, ls.Volume, boolToInt(ls.IsSynced), ls.SyncAttempts,
		nullUnix(ls.LastSyncAttempt), nullUnix(ls.LastSyncTime),
		nullString(ls.ServerSessionID), nullString(ls.SyncError),
	)
	return errors.Wrap(err, "save session")
}

const sessionColumns = `
	id, user_id, library_item_id, media_id, session_start, session_end,
	start_pos, current_pos, end_pos, duration, time_listening,
	playback_rate, volume, is_synced, sync_attempts,
	last_sync_attempt, last_sync_time, server_session_id, sync_error`

// GetSession returns a session by id, or ErrNotFound.
func (s *SQLiteStore) GetSession(id string) (*session.ListeningSession, error) {
	row := s.db.QueryRow(`SELECT`+sessionColumns+` FROM listening_sessions WHERE id = ?`, id)
	ls, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ls, err
}

// UnsyncedSessions returns the user's sessions that still need a remote
// push, oldest first.
func (s *SQLiteStore) UnsyncedSessions(userID string) ([]*session.ListeningSession, error) {
	rows, err := s.db.Query(`
		SELECT`+sessionColumns+`
		FROM listening_sessions
		WHERE user_id = ? AND is_synced = 0
		ORDER BY session_start`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query unsynced sessions")
	}
	defer rows.Close()

	var out []*session.ListeningSession
	for rows.Next() {
		ls, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// LastSession returns the user's most recently started session, or
// ErrNotFound when none exists.
func (s *SQLiteStore) LastSession(userID string) (*session.ListeningSession, error) {
	row := s.db.QueryRow(`
		SELECT`+sessionColumns+`
		FROM listening_sessions
		WHERE user_id = ?
		ORDER BY session_start DESC
		LIMIT 1`, userID)
	ls, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ls, err
}

// SaveSnapshot appends a progress snapshot row.
func (s *SQLiteStore) SaveSnapshot(snap session.ProgressSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO progress_snapshots (
			session_id, current_pos, progress, playback_rate, volume,
			chapter_id, is_playing, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.CurrentTime, snap.Progress, snap.PlaybackRate,
		snap.Volume, nullString(snap.ChapterID), boolToInt(snap.IsPlaying),
		snap.Timestamp.Unix(),
	)
	return errors.Wrap(err, "save snapshot")
}

// LatestSnapshot returns the newest snapshot for a session, or ErrNotFound.
func (s *SQLiteStore) LatestSnapshot(sessionID string) (*session.ProgressSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT session_id, current_pos, progress, playback_rate, volume,
			chapter_id, is_playing, created_at
		FROM progress_snapshots
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)

	var (
		snap      session.ProgressSnapshot
		chapterID sql.NullString
		playing   int
		createdAt int64
	)
	err := row.Scan(&snap.SessionID, &snap.CurrentTime, &snap.Progress,
		&snap.PlaybackRate, &snap.Volume, &chapterID, &playing, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan snapshot")
	}
	snap.ChapterID = chapterID.String
	snap.IsPlaying = playing != 0
	snap.Timestamp = time.Unix(createdAt, 0)
	return &snap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.ListeningSession, error) {
	var (
		ls              session.ListeningSession
		mediaID         sql.NullString
		sessionStart    int64
		sessionEnd      sql.NullInt64
		synced          int
		lastSyncAttempt sql.NullInt64
		lastSyncTime    sql.NullInt64
		serverSessionID sql.NullString
		syncError       sql.NullString
	)
	err := row.Scan(
		&ls.ID, &ls.UserID, &ls.LibraryItemID, &mediaID, &sessionStart, &sessionEnd,
		&ls.StartTime, &ls.CurrentTime, &ls.EndTime, &ls.Duration, &ls.TimeListening,
		&ls.PlaybackRate, &ls.Volume, &synced, &ls.SyncAttempts,
		&lastSyncAttempt, &lastSyncTime, &serverSessionID, &syncError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan session")
	}

	ls.MediaID = mediaID.String
	ls.SessionStart = time.Unix(sessionStart, 0)
	ls.SessionEnd = unixPtr(sessionEnd)
	ls.IsSynced = synced != 0
	ls.LastSyncAttempt = unixPtr(lastSyncAttempt)
	ls.LastSyncTime = unixPtr(lastSyncTime)
	ls.ServerSessionID = serverSessionID.String
	ls.SyncError = syncError.String
	return &ls, nil
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
