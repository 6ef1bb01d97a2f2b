// Package syncer provides the session synchronizer: local-first listening
// session records with best-effort remote mirroring and authoritative
// position reconciliation.
package syncer

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/pennal/shelfplayer/internal/app/player"
	"github.com/pennal/shelfplayer/internal/domain/session"
	"github.com/pennal/shelfplayer/internal/infra/api"
	"github.com/pennal/shelfplayer/internal/infra/store"
)

// Remote is the server-side session surface. api.Client satisfies it.
type Remote interface {
	CreateSession(ctx context.Context, libraryItemID string, req api.CreateSessionRequest) (*api.CreateSessionResponse, error)
	SyncSession(ctx context.Context, serverSessionID string, req api.SyncSessionRequest) error
	CloseSession(ctx context.Context, serverSessionID string, req api.SyncSessionRequest) error
	GetProgress(ctx context.Context, libraryItemID string) (*api.MediaProgress, error)
}

// Config holds synchronizer configuration.
type Config struct {
	UserID       string
	DeviceID     string
	ClientName   string
	SyncInterval time.Duration // minimum gap between progress pushes
}

// Synchronizer creates, syncs and closes listening sessions. Local rows
// are written first; remote pushes are background, serialized per session
// id, and a newer push supersedes one still waiting so an older position
// can never overwrite a newer one.
type Synchronizer struct {
	mu sync.Mutex

	cfg    Config
	store  store.Store
	remote Remote
	bus    *player.Bus

	current    *session.ListeningSession
	lastPushAt time.Time
	lastSample time.Time
	listened   float64 // seconds accumulated since last push

	pushes map[string]*pushState

	ctx    context.Context
	cancel context.CancelFunc
}

// pushState serializes outbound pushes for one session id.
type pushState struct {
	inFlight bool
	pending  *pushJob
}

type pushJob struct {
	currentTime  float64
	timeListened float64
	duration     float64
	closing      bool
	done         chan struct{}
}

// New creates a synchronizer.
func New(cfg Config, st store.Store, remote Remote, bus *player.Bus) *Synchronizer {
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		cfg:    cfg,
		store:  st,
		remote: remote,
		bus:    bus,
		pushes: make(map[string]*pushState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close cancels outstanding remote work.
func (s *Synchronizer) Close() {
	s.cancel()
}

// CreateLocalSession allocates a client-generated session id, writes the
// local row immediately, and attempts remote creation in the background.
// Remote failure never blocks local playback; it is retried on the next
// push.
func (s *Synchronizer) CreateLocalSession(libraryItemID, mediaID string, startTime, duration float64) *session.ListeningSession {
	ls := session.NewListeningSession(s.cfg.UserID, libraryItemID, mediaID, startTime, duration)

	if err := s.store.SaveSession(ls); err != nil {
		zlog.Error().Msgf("syncer: failed to persist session %s: %v", ls.ID, err)
	}

	s.mu.Lock()
	s.current = ls
	s.lastPushAt = time.Now()
	s.lastSample = time.Now()
	s.listened = 0
	s.mu.Unlock()

	go func() {
		s.bus.Dispatch(player.Event{Type: player.EventSessionCreated, SessionID: ls.ID})
		s.ensureServerSession(ls)
	}()
	return ls
}

// ensureServerSession creates the remote session if it does not exist yet.
// Returns true when a server session id is available.
func (s *Synchronizer) ensureServerSession(ls *session.ListeningSession) bool {
	if ls.ServerSessionID != "" {
		return true
	}
	resp, err := s.remote.CreateSession(s.ctx, ls.LibraryItemID, api.CreateSessionRequest{
		DeviceInfo: api.DeviceInfo{
			DeviceID:   s.cfg.DeviceID,
			ClientName: s.cfg.ClientName,
		},
		MediaPlayer:  "shelfplayer",
		CurrentTime:  ls.CurrentTime,
		PlaybackRate: ls.PlaybackRate,
	})
	if err != nil {
		zlog.Warn().Msgf("syncer: remote session create failed for %s: %v", ls.ID, err)
		return false
	}
	// ls may be the live current session, which RecordProgress mutates
	// under s.mu. Persist a snapshot taken under the lock.
	s.mu.Lock()
	ls.ServerSessionID = resp.ID
	snapshot := *ls
	s.mu.Unlock()
	if err := s.store.SaveSession(&snapshot); err != nil {
		zlog.Error().Msgf("syncer: failed to persist server session id: %v", err)
	}
	return true
}

// SyncSession enqueues a progress push for the session. Pushes for the
// same session never overlap; a push enqueued while one is in flight
// replaces any push already waiting.
func (s *Synchronizer) SyncSession(sessionID string, currentTime, timeListened, duration float64) <-chan struct{} {
	job := &pushJob{
		currentTime:  currentTime,
		timeListened: timeListened,
		duration:     duration,
		done:         make(chan struct{}),
	}
	s.enqueue(sessionID, job)
	return job.done
}

// CloseSession sets sessionEnd, performs a final sync attempt and releases
// the coordinator linkage.
func (s *Synchronizer) CloseSession(sessionID string) {
	s.mu.Lock()
	var currentTime, duration, listened float64
	if s.current != nil && s.current.ID == sessionID {
		currentTime = s.current.CurrentTime
		duration = s.current.Duration
		s.current = nil
	}
	listened = s.listened
	s.listened = 0
	s.mu.Unlock()

	ls, err := s.store.GetSession(sessionID)
	if err != nil {
		zlog.Warn().Msgf("syncer: close of unknown session %s: %v", sessionID, err)
		return
	}
	if currentTime == 0 {
		currentTime = ls.CurrentTime
	}
	if duration == 0 {
		duration = ls.Duration
	}
	ls.Close()
	if err := s.store.SaveSession(ls); err != nil {
		zlog.Error().Msgf("syncer: failed to persist closed session %s: %v", sessionID, err)
	}

	s.enqueue(sessionID, &pushJob{
		currentTime:  currentTime,
		timeListened: listened,
		duration:     duration,
		closing:      true,
		done:         make(chan struct{}),
	})
}

// RecordProgress persists a snapshot and pushes progress remotely when the
// sync interval has elapsed. Listening time accumulates only while playing.
func (s *Synchronizer) RecordProgress(sessionID string, position, duration, rate, volume float64, playing bool) {
	s.mu.Lock()
	now := time.Now()
	if s.current == nil || s.current.ID != sessionID {
		s.mu.Unlock()
		return
	}
	if playing && !s.lastSample.IsZero() {
		s.listened += now.Sub(s.lastSample).Seconds()
	}
	s.lastSample = now
	s.current.CurrentTime = position
	if duration > 0 {
		s.current.Duration = duration
	}
	s.current.PlaybackRate = rate
	s.current.Volume = volume

	snap := session.NewProgressSnapshot(s.current, "", playing)
	due := now.Sub(s.lastPushAt) >= s.cfg.SyncInterval
	var listened float64
	if due {
		s.lastPushAt = now
		listened = s.listened
		s.listened = 0
	}
	s.mu.Unlock()

	if err := s.store.SaveSnapshot(snap); err != nil {
		zlog.Error().Msgf("syncer: failed to persist snapshot: %v", err)
	}
	if due {
		s.SyncSession(sessionID, position, listened, duration)
	}
}

// ForceResyncPosition pulls the server's authoritative progress for the
// item, overwrites local progress, and signals the coordinator to re-seek.
// This is the explicit, user-triggered conflict resolution path for
// multi-device listening.
func (s *Synchronizer) ForceResyncPosition(userID, libraryItemID string) {
	s.mu.Lock()
	var localPos float64
	if s.current != nil {
		localPos = s.current.CurrentTime
	}
	s.mu.Unlock()

	progress, err := s.remote.GetProgress(s.ctx, libraryItemID)
	if err != nil {
		// Resolve with the local position so the coordinator leaves the
		// syncing state; the conflict survives for a later attempt.
		zlog.Warn().Msgf("syncer: progress pull failed for %s: %v", libraryItemID, err)
		s.bus.Dispatch(player.Event{Type: player.EventSyncPositionResolved, Position: localPos})
		return
	}

	s.mu.Lock()
	if s.current != nil && s.current.LibraryItemID == libraryItemID {
		s.current.CurrentTime = progress.CurrentTime
		if err := s.store.SaveSession(s.current); err != nil {
			zlog.Error().Msgf("syncer: failed to persist resynced position: %v", err)
		}
	}
	s.mu.Unlock()

	zlog.Info().Msgf("syncer: server position %0.1fs overrides local %0.1fs for %s",
		progress.CurrentTime, localPos, libraryItemID)
	s.bus.Dispatch(player.Event{
		Type:     player.EventSyncPositionResolved,
		Position: progress.CurrentTime,
		Duration: progress.Duration,
	})
}

// FlushUnsynced retries every locally unsynced session, then announces
// completion. Used on restore and when connectivity returns.
func (s *Synchronizer) FlushUnsynced() {
	sessions, err := s.store.UnsyncedSessions(s.cfg.UserID)
	if err != nil {
		zlog.Error().Msgf("syncer: failed to list unsynced sessions: %v", err)
		s.bus.Dispatch(player.Event{Type: player.EventSessionFlushCompleted})
		return
	}

	for _, ls := range sessions {
		job := &pushJob{
			currentTime: ls.CurrentTime,
			duration:    ls.Duration,
			closing:     ls.IsClosed(),
			done:        make(chan struct{}),
		}
		s.enqueue(ls.ID, job)
		<-job.done
	}

	zlog.Info().Msgf("syncer: flushed %d unsynced sessions", len(sessions))
	s.bus.Dispatch(player.Event{Type: player.EventSessionFlushCompleted})
}

// RestoreLast recovers the most recent local session and re-dispatches a
// load for it so playback resumes where the last run left off.
func (s *Synchronizer) RestoreLast() {
	ls, err := s.store.LastSession(s.cfg.UserID)
	if err != nil {
		zlog.Info().Msgf("syncer: nothing to restore: %v", err)
		s.bus.Dispatch(player.Event{Type: player.EventStop})
		return
	}

	position := ls.CurrentTime
	if snap, err := s.store.LatestSnapshot(ls.ID); err == nil && snap.CurrentTime > position {
		position = snap.CurrentTime
	}

	zlog.Info().Msgf("syncer: restoring item %s at %0.1fs", ls.LibraryItemID, position)
	s.bus.Dispatch(player.Event{
		Type: player.EventLoadTrack,
		Track: &player.Track{
			LibraryItemID: ls.LibraryItemID,
			MediaID:       ls.MediaID,
			Duration:      ls.Duration,
		},
		Position: position,
	})
}

// enqueue hands a job to the session's push queue, starting a worker when
// none is running. A pending job is superseded, never interleaved.
func (s *Synchronizer) enqueue(sessionID string, job *pushJob) {
	s.mu.Lock()
	ps, ok := s.pushes[sessionID]
	if !ok {
		ps = &pushState{}
		s.pushes[sessionID] = ps
	}
	if ps.inFlight {
		if ps.pending != nil {
			close(ps.pending.done) // superseded
		}
		ps.pending = job
		s.mu.Unlock()
		return
	}
	ps.inFlight = true
	s.mu.Unlock()

	go s.runPushes(sessionID, job)
}

// runPushes drains the session's push queue one job at a time.
func (s *Synchronizer) runPushes(sessionID string, job *pushJob) {
	for job != nil {
		s.pushOnce(sessionID, job)
		close(job.done)

		s.mu.Lock()
		ps := s.pushes[sessionID]
		job = ps.pending
		ps.pending = nil
		if job == nil {
			ps.inFlight = false
		}
		s.mu.Unlock()
	}
}

// pushOnce performs one remote push for the session and records the
// outcome on the local row.
func (s *Synchronizer) pushOnce(sessionID string, job *pushJob) {
	ls, err := s.store.GetSession(sessionID)
	if err != nil {
		zlog.Error().Msgf("syncer: push for unknown session %s: %v", sessionID, err)
		return
	}

	ls.Advance(job.currentTime, job.timeListened)
	if job.duration > 0 {
		ls.Duration = job.duration
	}

	if !s.ensureServerSession(ls) {
		s.failPush(ls, "remote session create failed")
		return
	}

	req := api.SyncSessionRequest{
		CurrentTime:  job.currentTime,
		TimeListened: job.timeListened,
		Duration:     job.duration,
	}
	if job.closing {
		err = s.remote.CloseSession(s.ctx, ls.ServerSessionID, req)
	} else {
		err = s.remote.SyncSession(s.ctx, ls.ServerSessionID, req)
	}
	if err != nil {
		s.failPush(ls, err.Error())
		return
	}

	ls.MarkSynced(ls.ServerSessionID)
	if err := s.store.SaveSession(ls); err != nil {
		zlog.Error().Msgf("syncer: failed to persist synced session %s: %v", sessionID, err)
	}
	if job.closing {
		s.bus.Dispatch(player.Event{Type: player.EventSessionClosed, SessionID: sessionID})
	} else {
		s.bus.Dispatch(player.Event{Type: player.EventSessionSynced, SessionID: sessionID})
	}
}

func (s *Synchronizer) failPush(ls *session.ListeningSession, reason string) {
	ls.MarkSyncFailed(reason)
	if err := s.store.SaveSession(ls); err != nil {
		zlog.Error().Msgf("syncer: failed to persist sync failure for %s: %v", ls.ID, err)
	}
	zlog.Warn().Msgf("syncer: sync attempt %d failed for %s: %s", ls.SyncAttempts, ls.ID, reason)
	s.bus.Dispatch(player.Event{
		Type:      player.EventSessionSyncFailed,
		SessionID: ls.ID,
		Err:       reason,
	})
}

// Link adapts the synchronizer to the coordinator's Sessions interface.
// Every method is fire-and-forget on its own goroutine, as the coordinator
// requires.
type Link struct {
	S *Synchronizer
}

// Start opens a local session for the track.
func (l Link) Start(track player.Track, startTime float64) {
	go l.S.CreateLocalSession(track.LibraryItemID, track.MediaID, startTime, track.Duration)
}

// Progress records a progress sample.
func (l Link) Progress(sessionID string, position, duration, rate, volume float64, playing bool) {
	go l.S.RecordProgress(sessionID, position, duration, rate, volume, playing)
}

// End closes the session.
func (l Link) End(sessionID string) {
	go l.S.CloseSession(sessionID)
}

// Flush retries locally unsynced sessions.
func (l Link) Flush() {
	go l.S.FlushUnsynced()
}

// Resync pulls authoritative server progress.
func (l Link) Resync(libraryItemID string) {
	go l.S.ForceResyncPosition(l.S.cfg.UserID, libraryItemID)
}

// Restore recovers the last known progress.
func (l Link) Restore() {
	go l.S.RestoreLast()
}
