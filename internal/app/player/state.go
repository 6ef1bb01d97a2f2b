// Package player provides the playback state coordinator: an event bus,
// a data-driven transition table, and the coordinator that owns the single
// mutable playback context.
package player

// State represents the playback lifecycle state.
type State int

const (
	StateIdle            State = iota // No track loaded
	StateLoading                      // Track load requested, engine preparing
	StateReady                        // Track loaded, not yet playing
	StatePlaying                      // Track is playing
	StatePaused                       // Track is paused
	StateSeeking                      // Seek requested, awaiting engine confirmation
	StateBuffering                    // Engine stalled waiting for data
	StateStopping                     // Stop requested, engine tearing down
	StateRestoring                    // Recovering last known progress from disk
	StateSyncingPosition              // Authoritative server position pull in progress
	StateSyncingSession               // Flushing unsynced local sessions
	StateError                        // Recoverable engine error, retry via PLAY
	StateFatalError                   // Unrecoverable, recovers only via LOAD_TRACK or STOP
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateBuffering:
		return "buffering"
	case StateStopping:
		return "stopping"
	case StateRestoring:
		return "restoring"
	case StateSyncingPosition:
		return "syncing_position"
	case StateSyncingSession:
		return "syncing_session"
	case StateError:
		return "error"
	case StateFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// IsErrorState returns true for the two error states.
func (s State) IsErrorState() bool {
	return s == StateError || s == StateFatalError
}
