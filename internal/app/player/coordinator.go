package player

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Mode controls how the coordinator treats illegal transitions.
type Mode int

const (
	// ModeEnforce rejects illegal transitions: state is left unmodified and
	// the event's side effects are skipped.
	ModeEnforce Mode = iota
	// ModeObserve records and logs violations but still runs the event's
	// side-effect handler with the state unchanged. Used to validate the
	// table against live traffic before turning on hard rejection.
	ModeObserve
)

// Sessions is the coordinator's linkage to the session synchronizer. All
// calls are fire-and-forget: implementations do their remote work on their
// own goroutines and report back by dispatching session lifecycle events on
// the bus. They must never dispatch synchronously from inside these calls.
type Sessions interface {
	// Start opens a listening session for the track.
	Start(track Track, startTime float64)
	// Progress records a progress sample for the open session.
	Progress(sessionID string, position, duration, rate, volume float64, playing bool)
	// End closes the session.
	End(sessionID string)
	// Flush retries locally unsynced sessions.
	Flush()
	// Resync pulls authoritative server progress for the item.
	Resync(libraryItemID string)
	// Restore recovers the last known local progress and re-dispatches a
	// load for it.
	Restore()
}

// Config holds coordinator configuration.
type Config struct {
	Mode         Mode
	PlaybackRate float64 // initial rate, 1.0 when zero
	Volume       float64 // initial volume, 1.0 when zero
}

// Coordinator owns the single mutable StateContext. Every state change,
// regardless of its source, is funneled through Handle and validated
// against the transition table. Events are processed strictly one at a
// time; no two events ever race against the same context.
type Coordinator struct {
	mu sync.Mutex

	bus      *Bus
	engine   Engine
	sessions Sessions
	mode     Mode

	state      StateContext
	history    *transitionRing
	metrics    Metrics
	queue      []Event
	generation uint64
	procTotal  time.Duration

	runCtx context.Context
	cancel context.CancelFunc
	unsub  func()
}

// New creates a coordinator and subscribes it to the bus.
func New(cfg Config, bus *Bus, engine Engine, sessions Sessions) *Coordinator {
	if cfg.PlaybackRate == 0 {
		cfg.PlaybackRate = 1.0
	}
	if cfg.Volume == 0 {
		cfg.Volume = 1.0
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		bus:      bus,
		engine:   engine,
		sessions: sessions,
		mode:     cfg.Mode,
		state: StateContext{
			CurrentState:  StateIdle,
			PreviousState: StateIdle,
			PlaybackRate:  cfg.PlaybackRate,
			Volume:        cfg.Volume,
		},
		history: newTransitionRing(),
		queue:   make([]Event, 0, 1),
		runCtx:  ctx,
		cancel:  cancel,
	}
	c.unsub = bus.Subscribe(c.Handle)
	return c
}

// Close detaches the coordinator from the bus and cancels outstanding
// engine work.
func (c *Coordinator) Close() {
	if c.unsub != nil {
		c.unsub()
	}
	c.cancel()
}

// Handle validates and applies one event. Illegal or stale events are
// recorded and logged, never silently applied and never fatal to the
// caller.
func (c *Coordinator) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	c.queue = append(c.queue, ev)
	defer func() {
		c.queue = c.queue[:len(c.queue)-1]
	}()

	from := c.state.CurrentState
	res := ValidateTransition(from, ev)

	// A completion from a superseded async load must not mutate state for
	// its successor.
	if res.Allowed && ev.Generation != 0 && ev.Generation != c.generation {
		res = ValidationResult{
			Allowed: false,
			Reason:  "stale load generation",
		}
	}

	// A load without a track payload issues no engine work; committing
	// LOADING for it would park the player there until a STOP.
	if res.Allowed && ev.Type == EventLoadTrack && ev.Track == nil {
		res = ValidationResult{
			Allowed: false,
			Reason:  "load event without track payload",
		}
	}

	if !res.Allowed {
		c.metrics.RejectedTransitionCount++
		c.history.append(TransitionHistoryEntry{
			FromState: from,
			Event:     ev.Type,
			Allowed:   false,
			Reason:    res.Reason,
			Timestamp: time.Now(),
		})
		zlog.Warn().Msgf("coordinator: rejected %s in state %s: %s", ev.Type, from, res.Reason)
		if c.mode == ModeObserve {
			c.runHandler(ev)
		}
		c.finishLocked(ev, from, nil, false, res.Reason, start)
		return
	}

	c.runHandler(ev)

	next := res.NextState
	if next != from {
		c.state.PreviousState = from
		c.state.CurrentState = next
		c.metrics.StateTransitionCount++
	}
	c.state.IsPlaying = c.state.CurrentState == StatePlaying

	if ev.Type == EventStop && c.state.CurrentState == StateIdle {
		c.resetContextLocked()
	}

	c.history.append(TransitionHistoryEntry{
		FromState: from,
		ToState:   &next,
		Event:     ev.Type,
		Allowed:   true,
		Timestamp: time.Now(),
	})
	c.finishLocked(ev, from, &next, true, "", start)
}

// finishLocked updates the running counters and publishes the diagnostic
// event. Must be called with c.mu held.
func (c *Coordinator) finishLocked(ev Event, from State, next *State, allowed bool, reason string, start time.Time) {
	c.metrics.TotalEventsProcessed++
	c.metrics.LastEventTimestamp = time.Now()
	c.procTotal += time.Since(start)
	c.metrics.AvgEventProcessingTime = float64(c.procTotal.Microseconds()) / 1000.0 /
		float64(c.metrics.TotalEventsProcessed)

	c.bus.PublishDiagnostic(DiagnosticEvent{
		Event:        ev.Type,
		CurrentState: from,
		NextState:    next,
		Allowed:      allowed,
		Reason:       reason,
		Timestamp:    time.Now(),
	})
}

// runHandler runs the event's side-effect handler. Handler panics are
// caught per event so one bad handler cannot halt subsequent processing.
func (c *Coordinator) runHandler(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("coordinator: handler for %s panicked: %v", ev.Type, r)
		}
	}()

	switch ev.Type {
	case EventLoadTrack:
		c.handleLoadTrack(ev)
	case EventPlay:
		c.engineCall("play", c.engine.Play)
	case EventPause:
		c.engineCall("pause", c.engine.Pause)
	case EventStop:
		c.handleStop()
	case EventSeek:
		c.state.Position = ev.Position
		pos := ev.Position
		c.engineCall("seek", func(ctx context.Context) error {
			return c.engine.Seek(ctx, pos)
		})
	case EventSetRate:
		c.state.PlaybackRate = ev.Rate
		rate := ev.Rate
		c.engineCall("set rate", func(ctx context.Context) error {
			return c.engine.SetRate(ctx, rate)
		})
	case EventSetVolume:
		c.state.Volume = ev.Volume
		vol := ev.Volume
		c.engineCall("set volume", func(ctx context.Context) error {
			return c.engine.SetVolume(ctx, vol)
		})
	case EventRestoreState:
		if c.sessions != nil {
			c.sessions.Restore()
		}
	case EventNativeTrackChanged:
		if ev.Track != nil {
			c.state.CurrentTrack = ev.Track
			c.state.Duration = ev.Track.Duration
		}
	case EventNativeProgressUpdated:
		c.state.Position = ev.Position
		if ev.Duration > 0 {
			c.state.Duration = ev.Duration
		}
		if c.sessions != nil && c.state.SessionID != "" {
			c.sessions.Progress(c.state.SessionID, c.state.Position, c.state.Duration,
				c.state.PlaybackRate, c.state.Volume, c.state.IsPlaying)
		}
	case EventNativeError, EventNativePlaybackError:
		zlog.Error().Msgf("coordinator: engine reported error: %s", ev.Err)
	case EventAppBackgrounded:
		// Flush a progress sample before the OS can suspend us.
		if c.sessions != nil && c.state.SessionID != "" {
			c.sessions.Progress(c.state.SessionID, c.state.Position, c.state.Duration,
				c.state.PlaybackRate, c.state.Volume, c.state.IsPlaying)
		}
	case EventSessionCreated:
		c.state.SessionID = ev.SessionID
	case EventSessionClosed:
		if ev.SessionID == c.state.SessionID {
			c.state.SessionID = ""
		}
	case EventSessionSyncFailed:
		zlog.Debug().Msgf("coordinator: session sync failed: %s", ev.Err)
	case EventSyncPositionRequested:
		if c.sessions != nil && c.state.CurrentTrack != nil {
			c.sessions.Resync(c.state.CurrentTrack.LibraryItemID)
		}
	case EventSyncPositionResolved:
		c.state.Position = ev.Position
		if c.state.CurrentTrack != nil {
			pos := ev.Position
			c.engineCall("resync seek", func(ctx context.Context) error {
				return c.engine.Seek(ctx, pos)
			})
		}
	case EventSessionFlushRequested:
		if c.sessions != nil {
			c.sessions.Flush()
		}
	case EventReloadQueue:
		zlog.Debug().Msg("coordinator: queue reload requested")
	}
}

func (c *Coordinator) handleLoadTrack(ev Event) {
	if ev.Track == nil {
		zlog.Warn().Msg("coordinator: load event without track payload")
		return
	}
	if c.sessions != nil && c.state.SessionID != "" {
		c.sessions.End(c.state.SessionID)
		c.state.SessionID = ""
	}

	c.generation++
	gen := c.generation
	track := *ev.Track

	c.state.CurrentTrack = ev.Track
	c.state.Position = ev.Position
	c.state.Duration = track.Duration

	if c.sessions != nil {
		c.sessions.Start(track, ev.Position)
	}
	go func() {
		if err := c.engine.Load(c.runCtx, track, gen); err != nil {
			zlog.Error().Msgf("coordinator: engine load failed: %v", err)
		}
	}()
}

func (c *Coordinator) handleStop() {
	if c.sessions != nil && c.state.SessionID != "" {
		c.sessions.End(c.state.SessionID)
	}
	c.engineCall("stop", c.engine.Stop)
}

// engineCall runs an engine command on its own goroutine. Engine failures
// come back as NATIVE_ERROR events, so a synchronous error is only logged.
func (c *Coordinator) engineCall(name string, fn func(context.Context) error) {
	go func() {
		if err := fn(c.runCtx); err != nil {
			zlog.Error().Msgf("coordinator: engine %s failed: %v", name, err)
		}
	}()
}

func (c *Coordinator) resetContextLocked() {
	c.state.CurrentTrack = nil
	c.state.Position = 0
	c.state.Duration = 0
	c.state.SessionID = ""
}

// Generation returns the current load generation, used by engines to tag
// completion events.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Metrics returns a copy of the coordinator counters.
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.EventQueueLength = len(c.queue)
	return m
}

// Context returns a copy of the current state context.
func (c *Coordinator) Context() StateContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EventQueue returns a diagnostic snapshot of the events currently being
// processed. Processing is synchronous, so the depth never exceeds one.
func (c *Coordinator) EventQueue() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.queue))
	copy(out, c.queue)
	return out
}

// TransitionHistory returns a copy of the transition history, oldest first.
func (c *Coordinator) TransitionHistory() []TransitionHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.snapshot()
}

// ExportDiagnostics assembles the full diagnostics bundle for export.
func (c *Coordinator) ExportDiagnostics() Diagnostics {
	c.mu.Lock()
	d := Diagnostics{
		Metrics:           c.metrics,
		Context:           c.state,
		TransitionHistory: c.history.snapshot(),
	}
	d.Metrics.EventQueueLength = len(c.queue)
	c.mu.Unlock()

	// Bus history is taken outside c.mu; the bus has its own lock.
	d.EventHistory = c.bus.EventHistory()
	return d
}

// ExportDiagnosticsJSON renders the diagnostics bundle as indented JSON.
func (c *Coordinator) ExportDiagnosticsJSON() ([]byte, error) {
	return json.MarshalIndent(c.ExportDiagnostics(), "", "  ")
}
