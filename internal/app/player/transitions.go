package player

import "fmt"

// stateFromEvent is a sentinel next-state meaning the destination comes
// from the event payload (used for NATIVE_STATE_CHANGED, whose target is
// whatever transport state the engine announced).
const stateFromEvent State = -1

// ValidationResult is the outcome of validating an event against the
// transition table.
type ValidationResult struct {
	Allowed   bool
	NextState State
	Reason    string
}

// noopEvents are always legal in every state and never change state.
// They carry side effects (position updates, rate/volume pass-through,
// bookkeeping) but currentState is untouched.
var noopEvents = map[EventType]struct{}{
	EventNativeProgressUpdated: {},
	EventSetRate:               {},
	EventSetVolume:             {},
	EventAppForegrounded:       {},
	EventAppBackgrounded:       {},
	EventSessionCreated:        {},
	EventSessionSynced:         {},
	EventSessionSyncFailed:     {},
	EventSessionClosed:         {},
}

// noopOverrides forbids specific no-op events in specific states.
// Rate and volume changes are meaningless once the engine is gone.
var noopOverrides = map[State]map[EventType]struct{}{
	StateFatalError: {
		EventSetRate:   {},
		EventSetVolume: {},
	},
}

// transitionTable is the legality map from (state, event type) to next
// state. Built once at init and never mutated; every entry here is a legal
// transition, everything absent (and not a no-op) is illegal. Error events
// are injected for all non-fatal states by buildTransitionTable.
var transitionTable = buildTransitionTable(map[State]map[EventType]State{
	StateIdle: {
		EventLoadTrack:             StateLoading,
		EventRestoreState:          StateRestoring,
		EventSessionFlushRequested: StateSyncingSession,
		EventStop:                  StateIdle,
	},
	StateLoading: {
		EventLoadTrack:          StateLoading,
		EventNativeTrackChanged: StateReady,
		EventNativeStateChanged: stateFromEvent,
		EventStop:               StateStopping,
	},
	StateReady: {
		EventLoadTrack:             StateLoading,
		EventPlay:                  StatePlaying,
		EventSeek:                  StateSeeking,
		EventStop:                  StateStopping,
		EventReloadQueue:           StateReady,
		EventNativeStateChanged:    stateFromEvent,
		EventSyncPositionRequested: StateSyncingPosition,
	},
	StatePlaying: {
		EventLoadTrack:             StateLoading,
		EventPause:                 StatePaused,
		EventSeek:                  StateSeeking,
		EventStop:                  StateStopping,
		EventReloadQueue:           StatePlaying,
		EventNativeTrackChanged:    StatePlaying,
		EventNativeStateChanged:    stateFromEvent,
		EventSyncPositionRequested: StateSyncingPosition,
	},
	StatePaused: {
		EventLoadTrack:             StateLoading,
		EventPlay:                  StatePlaying,
		EventSeek:                  StateSeeking,
		EventStop:                  StateStopping,
		EventReloadQueue:           StatePaused,
		EventNativeStateChanged:    stateFromEvent,
		EventSyncPositionRequested: StateSyncingPosition,
	},
	StateSeeking: {
		EventLoadTrack:          StateLoading,
		EventPlay:               StatePlaying,
		EventPause:              StatePaused,
		EventSeek:               StateSeeking,
		EventStop:               StateStopping,
		EventNativeStateChanged: stateFromEvent,
	},
	StateBuffering: {
		EventLoadTrack:          StateLoading,
		EventPlay:               StatePlaying,
		EventPause:              StatePaused,
		EventStop:               StateStopping,
		EventNativeStateChanged: stateFromEvent,
	},
	StateStopping: {
		EventLoadTrack:          StateLoading,
		EventStop:               StateIdle,
		EventNativeStateChanged: stateFromEvent,
	},
	StateRestoring: {
		EventLoadTrack:             StateLoading,
		EventRestoreState:          StateRestoring,
		EventNativeTrackChanged:    StateReady,
		EventNativeStateChanged:    stateFromEvent,
		EventSessionFlushRequested: StateSyncingSession,
		EventSyncPositionRequested: StateSyncingPosition,
		EventStop:                  StateStopping,
	},
	StateSyncingPosition: {
		EventLoadTrack:            StateLoading,
		EventSyncPositionResolved: StateReady,
		EventSeek:                 StateSeeking,
		EventPlay:                 StatePlaying,
		EventPause:                StatePaused,
		EventStop:                 StateStopping,
		EventNativeStateChanged:   stateFromEvent,
	},
	StateSyncingSession: {
		EventLoadTrack:             StateLoading,
		EventSessionFlushCompleted: StateIdle,
		EventStop:                  StateStopping,
	},
	StateError: {
		EventLoadTrack:          StateLoading,
		EventPlay:               StatePlaying,
		EventRestoreState:       StateRestoring,
		EventStop:               StateStopping,
		EventNativeStateChanged: stateFromEvent,
	},
	// FatalError recovers only via explicit LOAD_TRACK or STOP. No error
	// event entries are injected here: once fatal, stay fatal.
	StateFatalError: {
		EventLoadTrack: StateLoading,
		EventStop:      StateIdle,
	},
})

// buildTransitionTable copies the declared table and injects the global
// error escalations: NATIVE_ERROR reaches ERROR and NATIVE_PLAYBACK_ERROR
// reaches FATAL_ERROR from every state except FATAL_ERROR itself. Keeping
// the rule in the table keeps every (state, event) pair inspectable.
func buildTransitionTable(declared map[State]map[EventType]State) map[State]map[EventType]State {
	table := make(map[State]map[EventType]State, len(declared))
	for state, entries := range declared {
		row := make(map[EventType]State, len(entries)+2)
		for ev, next := range entries {
			row[ev] = next
		}
		if state != StateFatalError {
			row[EventNativeError] = StateError
			row[EventNativePlaybackError] = StateFatalError
		}
		table[state] = row
	}
	return table
}

// IsNoopEvent reports whether the event type is in the global no-op set
// and not forbidden in the given state.
func IsNoopEvent(state State, eventType EventType) bool {
	if _, ok := noopEvents[eventType]; !ok {
		return false
	}
	if forbidden, ok := noopOverrides[state]; ok {
		if _, ok := forbidden[eventType]; ok {
			return false
		}
	}
	return true
}

// IsTransitionAllowed reports whether the event type is legal in the state,
// either as a table entry or as a no-op.
func IsTransitionAllowed(state State, eventType EventType) bool {
	if IsNoopEvent(state, eventType) {
		return true
	}
	_, ok := transitionTable[state][eventType]
	return ok
}

// NextState returns the destination state for a legal (state, event type)
// pair. No-op events map to the current state; payload-dependent entries
// (NATIVE_STATE_CHANGED) return the stateFromEvent sentinel, so callers
// needing the concrete destination use ValidateTransition. The second
// return is false when the pair is illegal.
func NextState(state State, eventType EventType) (State, bool) {
	if IsNoopEvent(state, eventType) {
		return state, true
	}
	next, ok := transitionTable[state][eventType]
	if !ok {
		return state, false
	}
	return next, true
}

// ValidateTransition validates a concrete event against the table. For
// NATIVE_STATE_CHANGED the destination comes from the event payload, and a
// redundant re-announcement of the current state is always accepted as a
// legal no-state-change transition, because native players repeat
// notifications.
func ValidateTransition(state State, ev Event) ValidationResult {
	if IsNoopEvent(state, ev.Type) {
		return ValidationResult{Allowed: true, NextState: state}
	}

	if ev.Type == EventNativeStateChanged && ev.NativeState == state {
		return ValidationResult{Allowed: true, NextState: state}
	}

	next, ok := transitionTable[state][ev.Type]
	if !ok {
		return ValidationResult{
			Allowed: false,
			Reason:  fmt.Sprintf("event %s is not permitted in state %s", ev.Type, state),
		}
	}
	if next == stateFromEvent {
		return ValidationResult{Allowed: true, NextState: ev.NativeState}
	}
	return ValidationResult{Allowed: true, NextState: next}
}
