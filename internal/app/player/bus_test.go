package player

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	var seen []EventType
	bus.Subscribe(func(ev Event) {
		seen = append(seen, ev.Type)
	})

	bus.Dispatch(Event{Type: EventLoadTrack})
	bus.Dispatch(Event{Type: EventPlay})
	bus.Dispatch(Event{Type: EventPause})

	assert.Equal(t, []EventType{EventLoadTrack, EventPlay, EventPause}, seen)
}

func TestBus_SameListenerTwiceInvokedTwice(t *testing.T) {
	bus := NewBus()
	calls := 0
	fn := func(Event) { calls++ }
	bus.Subscribe(fn)
	bus.Subscribe(fn)

	bus.Dispatch(Event{Type: EventPlay})
	assert.Equal(t, 2, calls)
}

func TestBus_ListenerPanicIsolated(t *testing.T) {
	bus := NewBus()
	var after int
	bus.Subscribe(func(Event) { panic("listener boom") })
	bus.Subscribe(func(Event) { after++ })

	assert.NotPanics(t, func() {
		bus.Dispatch(Event{Type: EventPlay})
	})
	assert.Equal(t, 1, after, "delivery continues past a failing listener")
}

func TestBus_UnsubscribeMidDispatchDoesNotDisturbOthers(t *testing.T) {
	bus := NewBus()
	var first, third int

	bus.Subscribe(func(Event) { first++ })
	var unsub func()
	unsub = bus.Subscribe(func(Event) { unsub() })
	bus.Subscribe(func(Event) { third++ })

	bus.Dispatch(Event{Type: EventPlay})
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, third, "listener after the self-unsubscriber still runs")

	bus.Dispatch(Event{Type: EventPause})
	assert.Equal(t, 2, first)
	assert.Equal(t, 2, third)
}

func TestBus_SubscribeReturnsWorkingUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe(func(Event) { calls++ })

	bus.Dispatch(Event{Type: EventPlay})
	unsub()
	bus.Dispatch(Event{Type: EventPlay})

	assert.Equal(t, 1, calls)
}

func TestBus_ClearListeners(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(func(Event) { calls++ })
	bus.ClearListeners()

	bus.Dispatch(Event{Type: EventPlay})
	assert.Equal(t, 0, calls)
}

func TestBus_EventHistoryBounded(t *testing.T) {
	bus := NewBus()
	for i := 0; i < 150; i++ {
		bus.Dispatch(Event{Type: EventNativeProgressUpdated, Position: float64(i)})
	}

	history := bus.EventHistory()
	require.Len(t, history, 100)
	assert.Equal(t, float64(50), history[0].Event.Position, "oldest surviving event")
	assert.Equal(t, float64(149), history[99].Event.Position, "newest event")
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestBus_EventHistoryIsDefensiveCopy(t *testing.T) {
	bus := NewBus()
	bus.Dispatch(Event{Type: EventPlay})

	history := bus.EventHistory()
	history[0].Event.Type = EventStop

	assert.Equal(t, EventPlay, bus.EventHistory()[0].Event.Type)
}

func TestBus_DiagnosticTopicSeparate(t *testing.T) {
	bus := NewBus()
	var events, diags int
	bus.Subscribe(func(Event) { events++ })
	unsub := bus.SubscribeDiagnostics(func(DiagnosticEvent) { diags++ })

	bus.Dispatch(Event{Type: EventPlay})
	bus.PublishDiagnostic(DiagnosticEvent{Event: EventPlay, Allowed: true})

	assert.Equal(t, 1, events)
	assert.Equal(t, 1, diags)
	assert.Len(t, bus.EventHistory(), 1, "diagnostics stay out of event history")

	unsub()
	bus.PublishDiagnostic(DiagnosticEvent{Event: EventPause})
	assert.Equal(t, 1, diags)
}

// 1000 sequential dispatches against a bus with 100 subscribers: every
// subscriber observes exactly 1000 calls, in order.
func TestBus_ManySubscribersManyDispatches(t *testing.T) {
	bus := NewBus()

	const subscribers = 100
	const dispatches = 1000

	seen := make([][]float64, subscribers)
	for i := 0; i < subscribers; i++ {
		i := i
		bus.Subscribe(func(ev Event) {
			seen[i] = append(seen[i], ev.Position)
		})
	}

	for n := 0; n < dispatches; n++ {
		bus.Dispatch(Event{Type: EventNativeProgressUpdated, Position: float64(n)})
	}

	for i := 0; i < subscribers; i++ {
		require.Len(t, seen[i], dispatches, "subscriber %d", i)
		for n := 0; n < dispatches; n++ {
			if seen[i][n] != float64(n) {
				t.Fatalf("subscriber %d saw event %v at index %d", i, seen[i][n], n)
			}
		}
	}
}

// A dispatch stalled inside an early listener while another goroutine
// unsubscribes a later entry must complete cleanly. The later listener may
// still see that one in-flight event; afterwards it sees nothing.
func TestBus_ConcurrentUnsubscribeDuringStalledDispatch(t *testing.T) {
	bus := NewBus()

	entered := make(chan struct{})
	release := make(chan struct{})
	var stalled atomic.Bool
	bus.Subscribe(func(Event) {
		if stalled.CompareAndSwap(false, true) {
			entered <- struct{}{}
			<-release
		}
	})

	var mu sync.Mutex
	lateCalls := 0
	unsub := bus.Subscribe(func(Event) {
		mu.Lock()
		lateCalls++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		bus.Dispatch(Event{Type: EventPlay})
		close(done)
	}()

	<-entered // dispatch is mid-delivery
	unsub()
	close(release)
	<-done

	mu.Lock()
	tail := lateCalls
	mu.Unlock()
	assert.LessOrEqual(t, tail, 1)

	bus.Dispatch(Event{Type: EventPause})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, tail, lateCalls, "no delivery after the unsubscribe settles")
}

func TestBus_ConcurrentSubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Dispatch(Event{Type: EventNativeProgressUpdated})
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(func(Event) {})
			unsub()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 500, count)
}
