// Package engine provides playback engine backends. Engines never touch
// coordinator state: they acknowledge commands by dispatching NATIVE_*
// events on the bus.
package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/pennal/shelfplayer/internal/app/player"
	"github.com/pennal/shelfplayer/internal/infra/config"
)

// New creates the configured engine backend.
func New(cfg config.EngineConfig, bus *player.Bus) (player.Engine, error) {
	switch cfg.Backend {
	case "sim", "":
		return NewSim(cfg.Settings, bus)
	default:
		return nil, errors.Newf("unknown engine backend %q", cfg.Backend)
	}
}
