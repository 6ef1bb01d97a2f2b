// Package session provides the ListeningSession and ProgressSnapshot
// domain entities.
package session

import (
	"time"

	"github.com/google/uuid"
)

// ListeningSession is a durable record of one continuous listening period,
// kept locally for offline resilience and mirrored remotely for
// cross-device continuity.
type ListeningSession struct {
	ID            string     // Client-generated UUID
	UserID        string     // Owning user
	LibraryItemID string     // Item being listened to
	MediaID       string     // Media within the item
	SessionStart  time.Time  // When the session opened
	SessionEnd    *time.Time // Set at most once, when the session closes
	StartTime     float64    // Position at session start (seconds)
	CurrentTime   float64    // Latest known position (seconds)
	EndTime       float64    // Position at session end (seconds)
	Duration      float64    // Media duration (seconds)
	TimeListening float64    // Accumulated listened seconds
	PlaybackRate  float64    // Rate at last sample
	Volume        float64    // Volume at last sample

	// Sync bookkeeping
	IsSynced        bool
	SyncAttempts    int
	LastSyncAttempt *time.Time
	LastSyncTime    *time.Time
	ServerSessionID string
	SyncError       string
}

// NewListeningSession creates a session with a fresh client-generated id.
func NewListeningSession(userID, libraryItemID, mediaID string, startTime, duration float64) *ListeningSession {
	return &ListeningSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		LibraryItemID: libraryItemID,
		MediaID:       mediaID,
		SessionStart:  time.Now(),
		StartTime:     startTime,
		CurrentTime:   startTime,
		Duration:      duration,
		PlaybackRate:  1.0,
		Volume:        1.0,
	}
}

// Advance records a new position and the listening time accumulated since
// the previous sample.
func (s *ListeningSession) Advance(currentTime, timeListened float64) {
	s.CurrentTime = currentTime
	if timeListened > 0 {
		s.TimeListening += timeListened
	}
}

// MarkSynced records a successful remote push.
func (s *ListeningSession) MarkSynced(serverSessionID string) {
	now := time.Now()
	s.IsSynced = true
	s.SyncAttempts = 0
	s.SyncError = ""
	s.LastSyncTime = &now
	s.LastSyncAttempt = &now
	if serverSessionID != "" {
		s.ServerSessionID = serverSessionID
	}
}

// MarkSyncFailed records a failed remote push. SyncAttempts only grows
// until the next successful sync resets it.
func (s *ListeningSession) MarkSyncFailed(err string) {
	now := time.Now()
	s.IsSynced = false
	s.SyncAttempts++
	s.SyncError = err
	s.LastSyncAttempt = &now
}

// Close sets the session end. A second call is ignored so SessionEnd is
// set at most once.
func (s *ListeningSession) Close() {
	if s.SessionEnd != nil {
		return
	}
	now := time.Now()
	s.SessionEnd = &now
	s.EndTime = s.CurrentTime
}

// IsClosed reports whether the session has ended.
func (s *ListeningSession) IsClosed() bool {
	return s.SessionEnd != nil
}

// Progress returns the fractional progress through the media, clamped to
// [0, 1]. Zero-duration media reports zero.
func (s *ListeningSession) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	p := s.CurrentTime / s.Duration
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ProgressSnapshot is a periodic sample tied to a session, persisted for
// crash/offline recovery and analytics.
type ProgressSnapshot struct {
	SessionID    string
	CurrentTime  float64
	Progress     float64 // 0..1
	PlaybackRate float64
	Volume       float64
	ChapterID    string // optional
	IsPlaying    bool
	Timestamp    time.Time
}

// NewProgressSnapshot samples the session's current position.
func NewProgressSnapshot(s *ListeningSession, chapterID string, isPlaying bool) ProgressSnapshot {
	return ProgressSnapshot{
		SessionID:    s.ID,
		CurrentTime:  s.CurrentTime,
		Progress:     s.Progress(),
		PlaybackRate: s.PlaybackRate,
		Volume:       s.Volume,
		ChapterID:    chapterID,
		IsPlaying:    isPlaying,
		Timestamp:    time.Now(),
	}
}
