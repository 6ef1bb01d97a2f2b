package player

import "time"

// StateContext is the coordinator's complete current view of playback.
// A single owned instance, mutated only inside Coordinator.Handle.
type StateContext struct {
	CurrentState  State   `json:"currentState"`
	PreviousState State   `json:"previousState"`
	CurrentTrack  *Track  `json:"currentTrack"`
	Position      float64 `json:"position"` // seconds
	Duration      float64 `json:"duration"` // seconds
	IsPlaying     bool    `json:"isPlaying"`
	PlaybackRate  float64 `json:"playbackRate"`
	Volume        float64 `json:"volume"`
	SessionID     string  `json:"sessionId"`
}

// TransitionHistoryEntry records one validated transition attempt.
type TransitionHistoryEntry struct {
	FromState State     `json:"fromState"`
	ToState   *State    `json:"toState"` // nil when the transition was rejected
	Event     EventType `json:"event"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics aggregates coordinator counters.
type Metrics struct {
	TotalEventsProcessed    uint64    `json:"totalEventsProcessed"`
	StateTransitionCount    uint64    `json:"stateTransitionCount"`
	RejectedTransitionCount uint64    `json:"rejectedTransitionCount"`
	EventQueueLength        int       `json:"eventQueueLength"`
	AvgEventProcessingTime  float64   `json:"avgEventProcessingTimeMs"`
	LastEventTimestamp      time.Time `json:"lastEventTimestamp"`
}

// DiagnosticEvent is published on the bus's diagnostic topic after every
// processed event, whether or not it was accepted.
type DiagnosticEvent struct {
	Event        EventType `json:"event"`
	CurrentState State     `json:"currentState"`
	NextState    *State    `json:"nextState"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Diagnostics is the JSON-serializable bundle ExportDiagnostics assembles
// for remote troubleshooting.
type Diagnostics struct {
	Metrics           Metrics                  `json:"metrics"`
	Context           StateContext             `json:"context"`
	TransitionHistory []TransitionHistoryEntry `json:"transitionHistory"`
	EventHistory      []TimestampedEvent       `json:"eventHistory"`
}

// transitionHistorySize bounds the coordinator's transition ring.
const transitionHistorySize = 200

// transitionRing is a fixed-capacity append-only ring of history entries.
type transitionRing struct {
	entries []TransitionHistoryEntry
	next    int
	total   int
}

func newTransitionRing() *transitionRing {
	return &transitionRing{entries: make([]TransitionHistoryEntry, 0, transitionHistorySize)}
}

func (r *transitionRing) append(e TransitionHistoryEntry) {
	if len(r.entries) < transitionHistorySize {
		r.entries = append(r.entries, e)
	} else {
		r.entries[r.next] = e
	}
	r.next = (r.next + 1) % transitionHistorySize
	r.total++
}

// snapshot returns the entries oldest-first.
func (r *transitionRing) snapshot() []TransitionHistoryEntry {
	out := make([]TransitionHistoryEntry, 0, len(r.entries))
	if r.total > transitionHistorySize {
		out = append(out, r.entries[r.next:]...)
		out = append(out, r.entries[:r.next]...)
	} else {
		out = append(out, r.entries...)
	}
	return out
}
