package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{
	StateIdle, StateLoading, StateReady, StatePlaying, StatePaused,
	StateSeeking, StateBuffering, StateStopping, StateRestoring,
	StateSyncingPosition, StateSyncingSession, StateError, StateFatalError,
}

var allEventTypes = []EventType{
	EventLoadTrack, EventPlay, EventPause, EventStop, EventSeek,
	EventSetRate, EventSetVolume, EventRestoreState, EventReloadQueue,
	EventNativeStateChanged, EventNativeTrackChanged, EventNativeProgressUpdated,
	EventNativeError, EventNativePlaybackError,
	EventAppForegrounded, EventAppBackgrounded,
	EventSessionCreated, EventSessionSynced, EventSessionSyncFailed, EventSessionClosed,
	EventSyncPositionRequested, EventSyncPositionResolved,
	EventSessionFlushRequested, EventSessionFlushCompleted,
}

func TestValidateTransition_AbsentPairsRejected(t *testing.T) {
	for _, state := range allStates {
		for _, et := range allEventTypes {
			if IsTransitionAllowed(state, et) {
				continue
			}
			// NATIVE_STATE_CHANGED re-announcing the current state is the
			// one payload-dependent exception.
			ev := Event{Type: et}
			if et == EventNativeStateChanged {
				ev.NativeState = state + 1
			}
			res := ValidateTransition(state, ev)
			assert.False(t, res.Allowed, "state=%s event=%s", state, et)
			assert.NotEmpty(t, res.Reason, "state=%s event=%s", state, et)
		}
	}
}

func TestValidateTransition_NoopEventsNeverChangeState(t *testing.T) {
	noops := []EventType{
		EventNativeProgressUpdated, EventSetRate, EventSetVolume,
		EventAppForegrounded, EventAppBackgrounded,
		EventSessionCreated, EventSessionSynced,
		EventSessionSyncFailed, EventSessionClosed,
	}
	for _, state := range allStates {
		for _, et := range noops {
			if state == StateFatalError && (et == EventSetRate || et == EventSetVolume) {
				continue
			}
			res := ValidateTransition(state, Event{Type: et})
			assert.True(t, res.Allowed, "state=%s event=%s", state, et)
			assert.Equal(t, state, res.NextState, "state=%s event=%s", state, et)
		}
	}
}

func TestValidateTransition_FatalErrorForbidsRateAndVolume(t *testing.T) {
	for _, et := range []EventType{EventSetRate, EventSetVolume} {
		res := ValidateTransition(StateFatalError, Event{Type: et})
		assert.False(t, res.Allowed, "event=%s", et)
	}
}

func TestValidateTransition_ErrorEscalation(t *testing.T) {
	for _, state := range allStates {
		if state == StateFatalError {
			continue
		}
		res := ValidateTransition(state, Event{Type: EventNativeError})
		assert.True(t, res.Allowed, "state=%s", state)
		assert.Equal(t, StateError, res.NextState, "state=%s", state)

		res = ValidateTransition(state, Event{Type: EventNativePlaybackError})
		assert.True(t, res.Allowed, "state=%s", state)
		assert.Equal(t, StateFatalError, res.NextState, "state=%s", state)
	}
}

func TestValidateTransition_FatalErrorRecoversOnlyExplicitly(t *testing.T) {
	// Once fatal, error events no longer move the state.
	assert.False(t, ValidateTransition(StateFatalError, Event{Type: EventNativeError}).Allowed)
	assert.False(t, ValidateTransition(StateFatalError, Event{Type: EventPlay}).Allowed)

	res := ValidateTransition(StateFatalError, Event{Type: EventLoadTrack})
	assert.True(t, res.Allowed)
	assert.Equal(t, StateLoading, res.NextState)

	res = ValidateTransition(StateFatalError, Event{Type: EventStop})
	assert.True(t, res.Allowed)
	assert.Equal(t, StateIdle, res.NextState)
}

func TestValidateTransition_NativeStateChanged(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		native   State
		allowed  bool
		expected State
	}{
		{
			name:     "loading announces playing",
			from:     StateLoading,
			native:   StatePlaying,
			allowed:  true,
			expected: StatePlaying,
		},
		{
			name:     "playing announces buffering",
			from:     StatePlaying,
			native:   StateBuffering,
			allowed:  true,
			expected: StateBuffering,
		},
		{
			name:     "stopping announces idle",
			from:     StateStopping,
			native:   StateIdle,
			allowed:  true,
			expected: StateIdle,
		},
		{
			name:     "redundant re-announcement is legal",
			from:     StatePlaying,
			native:   StatePlaying,
			allowed:  true,
			expected: StatePlaying,
		},
		{
			name:     "redundant re-announcement legal even without table entry",
			from:     StateSyncingSession,
			native:   StateSyncingSession,
			allowed:  true,
			expected: StateSyncingSession,
		},
		{
			name:    "syncing_session rejects foreign announcement",
			from:    StateSyncingSession,
			native:  StatePlaying,
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateTransition(tt.from, Event{Type: EventNativeStateChanged, NativeState: tt.native})
			assert.Equal(t, tt.allowed, res.Allowed)
			if tt.allowed {
				assert.Equal(t, tt.expected, res.NextState)
			}
		})
	}
}

func TestNextState_AgreesWithIsTransitionAllowed(t *testing.T) {
	for _, state := range allStates {
		for _, et := range allEventTypes {
			next, ok := NextState(state, et)
			assert.Equal(t, IsTransitionAllowed(state, et), ok, "state=%s event=%s", state, et)
			if ok && IsNoopEvent(state, et) {
				assert.Equal(t, state, next, "no-op must keep state, state=%s event=%s", state, et)
			}
		}
	}
}
