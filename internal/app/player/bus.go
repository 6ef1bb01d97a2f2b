package player

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// eventHistorySize is the number of dispatched events the bus remembers.
const eventHistorySize = 100

// Listener receives every event dispatched on the bus.
type Listener func(Event)

// DiagnosticListener receives a DiagnosticEvent after every event the
// coordinator processes, accepted or not.
type DiagnosticListener func(DiagnosticEvent)

// Bus is an in-process publish/subscribe dispatcher for playback events.
// Dispatch is synchronous and in-order; listener failures are isolated.
type Bus struct {
	mu          sync.Mutex
	listeners   []*busEntry
	diagnostics []*diagEntry
	history     []TimestampedEvent
	nextPos     int
	total       int
}

// busEntry wraps a listener so the same function can be subscribed twice
// and each registration unsubscribed individually.
type busEntry struct {
	fn Listener
}

type diagEntry struct {
	fn DiagnosticListener
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		history: make([]TimestampedEvent, 0, eventHistorySize),
	}
}

// Dispatch delivers the event to all currently-registered listeners in
// registration order. It never panics on listener failure: a panicking
// listener is logged and delivery continues with the rest. Listener work
// is not awaited; anything asynchronous a listener starts runs on its own.
func (b *Bus) Dispatch(ev Event) {
	b.mu.Lock()
	b.recordLocked(ev)
	// Snapshot before iterating so subscribe/unsubscribe during delivery
	// cannot disturb the set scheduled for this dispatch. A listener
	// unsubscribed from another goroutine mid-dispatch may still see this
	// one tail event.
	snapshot := make([]*busEntry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, entry := range snapshot {
		b.deliver(entry.fn, ev)
	}
}

func (b *Bus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("bus: listener panicked on %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}

// Subscribe registers a listener and returns its unsubscribe function.
// The same function subscribed twice is invoked twice per dispatch.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &busEntry{fn: fn}
	b.listeners = append(b.listeners, entry)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.listeners {
			if e == entry {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				break
			}
		}
	}
}

// SubscribeDiagnostics registers a listener on the diagnostic topic.
func (b *Bus) SubscribeDiagnostics(fn DiagnosticListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &diagEntry{fn: fn}
	b.diagnostics = append(b.diagnostics, entry)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.diagnostics {
			if e == entry {
				b.diagnostics = append(b.diagnostics[:i], b.diagnostics[i+1:]...)
				break
			}
		}
	}
}

// PublishDiagnostic delivers a diagnostic event to the diagnostic topic.
// Diagnostic events are not recorded in the event history.
func (b *Bus) PublishDiagnostic(de DiagnosticEvent) {
	b.mu.Lock()
	snapshot := make([]*diagEntry, len(b.diagnostics))
	copy(snapshot, b.diagnostics)
	b.mu.Unlock()

	for _, entry := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					zlog.Error().Msgf("bus: diagnostic listener panicked: %v", r)
				}
			}()
			entry.fn(de)
		}()
	}
}

// ClearListeners removes all listeners from both topics.
func (b *Bus) ClearListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = nil
	b.diagnostics = nil
}

// EventHistory returns a defensive copy of the last dispatched events,
// oldest first.
func (b *Bus) EventHistory() []TimestampedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TimestampedEvent, 0, len(b.history))
	if b.total > eventHistorySize {
		out = append(out, b.history[b.nextPos:]...)
		out = append(out, b.history[:b.nextPos]...)
	} else {
		out = append(out, b.history...)
	}
	return out
}

// recordLocked appends the event to the bounded history ring.
// Must be called with b.mu held.
func (b *Bus) recordLocked(ev Event) {
	te := TimestampedEvent{Event: ev, Timestamp: time.Now()}
	if len(b.history) < eventHistorySize {
		b.history = append(b.history, te)
	} else {
		b.history[b.nextPos] = te
	}
	b.nextPos = (b.nextPos + 1) % eventHistorySize
	b.total++
}
