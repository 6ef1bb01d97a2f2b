package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/pennal/shelfplayer/internal/app/player"
)

// SimSettings configures the headless simulation backend.
type SimSettings struct {
	LoadDelayMs int `mapstructure:"load_delay_ms" default:"50" validate:"gte=0,lte=10000"`
	TickMs      int `mapstructure:"tick_ms" default:"1000" validate:"gte=10,lte=10000"`
}

// Sim is a headless engine that plays tracks against the wall clock. It
// exists for development, the CLI and integration-style tests; it performs
// no audio I/O.
type Sim struct {
	mu sync.Mutex

	bus      *player.Bus
	settings SimSettings

	track      *player.Track
	position   float64
	rate       float64
	playing    bool
	tickCancel func()
}

// NewSim creates a simulation engine from the opaque settings map.
func NewSim(settings map[string]any, bus *player.Bus) (*Sim, error) {
	var s SimSettings
	if err := mapstructure.Decode(settings, &s); err != nil {
		return nil, errors.Wrap(err, "decode sim engine settings")
	}
	if err := defaults.Set(&s); err != nil {
		return nil, errors.Wrap(err, "apply sim engine defaults")
	}
	if err := validator.New().Struct(&s); err != nil {
		return nil, errors.Wrap(err, "validate sim engine settings")
	}
	return &Sim{bus: bus, settings: s, rate: 1.0}, nil
}

// Load prepares the track and announces it after the configured delay.
func (s *Sim) Load(ctx context.Context, track player.Track, generation uint64) error {
	s.mu.Lock()
	s.stopTickerLocked()
	s.track = &track
	s.position = 0
	s.playing = false
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(s.settings.LoadDelayMs) * time.Millisecond):
		}
		t := track
		s.bus.Dispatch(player.Event{
			Type:       player.EventNativeTrackChanged,
			Track:      &t,
			Generation: generation,
		})
	}()
	return nil
}

// Play starts the progress clock and announces the playing state.
func (s *Sim) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return errors.New("sim: no track loaded")
	}
	s.playing = true
	s.startTickerLocked()
	s.mu.Unlock()

	s.bus.Dispatch(player.Event{Type: player.EventNativeStateChanged, NativeState: player.StatePlaying})
	return nil
}

// Pause stops the progress clock and announces the paused state.
func (s *Sim) Pause(ctx context.Context) error {
	s.mu.Lock()
	s.playing = false
	s.stopTickerLocked()
	s.mu.Unlock()

	s.bus.Dispatch(player.Event{Type: player.EventNativeStateChanged, NativeState: player.StatePaused})
	return nil
}

// Stop unloads the track and announces idle.
func (s *Sim) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.playing = false
	s.stopTickerLocked()
	s.track = nil
	s.position = 0
	s.mu.Unlock()

	s.bus.Dispatch(player.Event{Type: player.EventNativeStateChanged, NativeState: player.StateIdle})
	return nil
}

// Seek moves the position and re-announces the current transport state.
func (s *Sim) Seek(ctx context.Context, position float64) error {
	s.mu.Lock()
	s.position = position
	state := player.StatePaused
	if s.playing {
		state = player.StatePlaying
	}
	loaded := s.track != nil
	s.mu.Unlock()

	if !loaded {
		return errors.New("sim: no track loaded")
	}
	s.bus.Dispatch(player.Event{Type: player.EventNativeStateChanged, NativeState: state})
	return nil
}

// SetRate changes the simulated clock rate.
func (s *Sim) SetRate(ctx context.Context, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate <= 0 {
		return errors.Newf("sim: invalid rate %f", rate)
	}
	s.rate = rate
	return nil
}

// SetVolume is accepted and ignored; the sim produces no audio.
func (s *Sim) SetVolume(ctx context.Context, volume float64) error {
	return nil
}

// startTickerLocked starts the progress tick loop. Must be called with
// s.mu held.
func (s *Sim) startTickerLocked() {
	s.stopTickerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel

	interval := time.Duration(s.settings.TickMs) * time.Millisecond
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if done := s.tick(interval); done {
					return
				}
			}
		}
	}()
}

// tick advances the position one interval and reports progress. Returns
// true when the track has ended.
func (s *Sim) tick(interval time.Duration) bool {
	s.mu.Lock()
	if !s.playing || s.track == nil {
		s.mu.Unlock()
		return true
	}
	s.position += interval.Seconds() * s.rate
	pos := s.position
	duration := s.track.Duration
	ended := duration > 0 && pos >= duration
	if ended {
		pos = duration
		s.position = duration
		s.playing = false
		s.stopTickerLocked()
	}
	s.mu.Unlock()

	s.bus.Dispatch(player.Event{
		Type:     player.EventNativeProgressUpdated,
		Position: pos,
		Duration: duration,
	})
	if ended {
		zlog.Debug().Msg("sim: track ended")
		s.bus.Dispatch(player.Event{Type: player.EventNativeStateChanged, NativeState: player.StatePaused})
	}
	return ended
}

func (s *Sim) stopTickerLocked() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
}
