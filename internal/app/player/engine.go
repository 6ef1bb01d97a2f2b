package player

import "context"

// Engine is the native audio transport boundary. Commands are asynchronous:
// the engine acknowledges by dispatching NATIVE_* events back on the bus,
// never by mutating coordinator state directly.
type Engine interface {
	// Load prepares a track for playback. generation tags the request so a
	// late completion from a superseded load can be discarded.
	Load(ctx context.Context, track Track, generation uint64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, volume float64) error
}
