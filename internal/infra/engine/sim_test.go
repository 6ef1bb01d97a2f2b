package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennal/shelfplayer/internal/app/player"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []player.Event
}

func (r *eventRecorder) attach(bus *player.Bus) {
	bus.Subscribe(func(ev player.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
}

func (r *eventRecorder) wait(t *testing.T, match func(player.Event) bool) player.Event {
	t.Helper()
	var found player.Event
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, ev := range r.events {
			if match(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func newTestSim(t *testing.T, settings map[string]any) (*Sim, *eventRecorder) {
	t.Helper()
	bus := player.NewBus()
	rec := &eventRecorder{}
	rec.attach(bus)
	sim, err := NewSim(settings, bus)
	require.NoError(t, err)
	return sim, rec
}

func TestNewSim_Defaults(t *testing.T) {
	sim, _ := newTestSim(t, nil)
	assert.Equal(t, 50, sim.settings.LoadDelayMs)
	assert.Equal(t, 1000, sim.settings.TickMs)
}

func TestNewSim_SettingsDecoded(t *testing.T) {
	sim, _ := newTestSim(t, map[string]any{"load_delay_ms": 10, "tick_ms": 20})
	assert.Equal(t, 10, sim.settings.LoadDelayMs)
	assert.Equal(t, 20, sim.settings.TickMs)
}

func TestNewSim_RejectsBadSettings(t *testing.T) {
	bus := player.NewBus()
	_, err := NewSim(map[string]any{"tick_ms": 1}, bus)
	assert.Error(t, err)
}

func TestLoad_AnnouncesTrackWithGeneration(t *testing.T) {
	sim, rec := newTestSim(t, map[string]any{"load_delay_ms": 5})

	track := player.Track{LibraryItemID: "item-1", Title: "Dune", Duration: 3600}
	require.NoError(t, sim.Load(context.Background(), track, 7))

	ev := rec.wait(t, func(ev player.Event) bool { return ev.Type == player.EventNativeTrackChanged })
	require.NotNil(t, ev.Track)
	assert.Equal(t, "item-1", ev.Track.LibraryItemID)
	assert.Equal(t, uint64(7), ev.Generation)
}

func TestLoad_CancelledContextSuppressesAnnouncement(t *testing.T) {
	sim, rec := newTestSim(t, map[string]any{"load_delay_ms": 50})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sim.Load(ctx, player.Track{LibraryItemID: "item-1"}, 1))
	cancel()

	time.Sleep(150 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, ev := range rec.events {
		assert.NotEqual(t, player.EventNativeTrackChanged, ev.Type)
	}
}

func TestPlay_RequiresLoadedTrack(t *testing.T) {
	sim, _ := newTestSim(t, nil)
	assert.Error(t, sim.Play(context.Background()))
}

func TestTransportAnnouncements(t *testing.T) {
	sim, rec := newTestSim(t, map[string]any{"load_delay_ms": 1, "tick_ms": 10})
	ctx := context.Background()

	require.NoError(t, sim.Load(ctx, player.Track{LibraryItemID: "item-1", Duration: 3600}, 1))
	rec.wait(t, func(ev player.Event) bool { return ev.Type == player.EventNativeTrackChanged })

	require.NoError(t, sim.Play(ctx))
	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeStateChanged && ev.NativeState == player.StatePlaying
	})

	// The clock ticks while playing.
	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeProgressUpdated && ev.Position > 0
	})

	require.NoError(t, sim.Pause(ctx))
	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeStateChanged && ev.NativeState == player.StatePaused
	})

	require.NoError(t, sim.Stop(ctx))
	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeStateChanged && ev.NativeState == player.StateIdle
	})
}

func TestSeek_ReannouncesTransportState(t *testing.T) {
	sim, rec := newTestSim(t, map[string]any{"load_delay_ms": 1})
	ctx := context.Background()

	assert.Error(t, sim.Seek(ctx, 100), "seek without a track fails")

	require.NoError(t, sim.Load(ctx, player.Track{LibraryItemID: "item-1", Duration: 3600}, 1))
	rec.wait(t, func(ev player.Event) bool { return ev.Type == player.EventNativeTrackChanged })

	require.NoError(t, sim.Seek(ctx, 100))
	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeStateChanged && ev.NativeState == player.StatePaused
	})

	sim.mu.Lock()
	pos := sim.position
	sim.mu.Unlock()
	assert.Equal(t, 100.0, pos)
}

func TestTrackEndPausesAtDuration(t *testing.T) {
	sim, rec := newTestSim(t, map[string]any{"load_delay_ms": 1, "tick_ms": 10})
	ctx := context.Background()

	// Two ticks at 8x cover the 0.1s track.
	require.NoError(t, sim.Load(ctx, player.Track{LibraryItemID: "item-1", Duration: 0.1}, 1))
	rec.wait(t, func(ev player.Event) bool { return ev.Type == player.EventNativeTrackChanged })
	require.NoError(t, sim.SetRate(ctx, 8))
	require.NoError(t, sim.Play(ctx))

	ev := rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeProgressUpdated && ev.Position == 0.1
	})
	assert.Equal(t, 0.1, ev.Duration)

	rec.wait(t, func(ev player.Event) bool {
		return ev.Type == player.EventNativeStateChanged && ev.NativeState == player.StatePaused
	})
}

func TestSetRate_RejectsNonPositive(t *testing.T) {
	sim, _ := newTestSim(t, nil)
	assert.Error(t, sim.SetRate(context.Background(), 0))
	assert.Error(t, sim.SetRate(context.Background(), -1))
	assert.NoError(t, sim.SetRate(context.Background(), 1.5))
}
