package player

import "time"

// EventType represents a playback event type.
type EventType int

const (
	// User actions
	EventLoadTrack EventType = iota
	EventPlay
	EventPause
	EventStop
	EventSeek
	EventSetRate
	EventSetVolume
	EventRestoreState
	EventReloadQueue

	// Native transport callbacks
	EventNativeStateChanged
	EventNativeTrackChanged
	EventNativeProgressUpdated
	EventNativeError
	EventNativePlaybackError

	// App lifecycle
	EventAppForegrounded
	EventAppBackgrounded

	// Session lifecycle notices (informational, never state-changing)
	EventSessionCreated
	EventSessionSynced
	EventSessionSyncFailed
	EventSessionClosed

	// Position/session sync requests
	EventSyncPositionRequested
	EventSyncPositionResolved
	EventSessionFlushRequested
	EventSessionFlushCompleted
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventLoadTrack:
		return "load_track"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventStop:
		return "stop"
	case EventSeek:
		return "seek"
	case EventSetRate:
		return "set_rate"
	case EventSetVolume:
		return "set_volume"
	case EventRestoreState:
		return "restore_state"
	case EventReloadQueue:
		return "reload_queue"
	case EventNativeStateChanged:
		return "native_state_changed"
	case EventNativeTrackChanged:
		return "native_track_changed"
	case EventNativeProgressUpdated:
		return "native_progress_updated"
	case EventNativeError:
		return "native_error"
	case EventNativePlaybackError:
		return "native_playback_error"
	case EventAppForegrounded:
		return "app_foregrounded"
	case EventAppBackgrounded:
		return "app_backgrounded"
	case EventSessionCreated:
		return "session_created"
	case EventSessionSynced:
		return "session_synced"
	case EventSessionSyncFailed:
		return "session_sync_failed"
	case EventSessionClosed:
		return "session_closed"
	case EventSyncPositionRequested:
		return "sync_position_requested"
	case EventSyncPositionResolved:
		return "sync_position_resolved"
	case EventSessionFlushRequested:
		return "session_flush_requested"
	case EventSessionFlushCompleted:
		return "session_flush_completed"
	default:
		return "unknown"
	}
}

// Track identifies the media being played.
type Track struct {
	LibraryItemID string  `json:"libraryItemId"`
	MediaID       string  `json:"mediaId"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Duration      float64 `json:"duration"` // seconds
	StreamURL     string  `json:"streamUrl"`
}

// Event is a typed playback event. Each variant uses only the payload
// fields relevant to its type; the rest stay zero.
type Event struct {
	Type EventType `json:"type"`

	// EventLoadTrack, EventNativeTrackChanged
	Track *Track `json:"track,omitempty"`

	// EventSeek, EventNativeProgressUpdated, EventSyncPositionResolved
	Position float64 `json:"position,omitempty"` // seconds
	Duration float64 `json:"duration,omitempty"` // seconds

	// EventSetRate
	Rate float64 `json:"rate,omitempty"`

	// EventSetVolume
	Volume float64 `json:"volume,omitempty"`

	// EventNativeStateChanged: the transport state announced by the engine
	NativeState State `json:"nativeState,omitempty"`

	// EventNativeError, EventNativePlaybackError, EventSessionSyncFailed
	Err string `json:"error,omitempty"`

	// Session lifecycle notices
	SessionID string `json:"sessionId,omitempty"`

	// Generation tags async completions so a late result from a superseded
	// load cannot mutate state for its successor. Zero means untagged.
	Generation uint64 `json:"generation,omitempty"`
}

// TimestampedEvent is what the bus records in its history ring.
type TimestampedEvent struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}
