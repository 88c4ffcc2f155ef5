package audio

import (
	"fmt"
	"os"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/process"
)

// Player starts the external audio player for library tracks.
type Player struct {
	binary string
	args   []string
	lib    *media.Library
	logger Logger
}

// NewPlayer creates a player for tracks in lib.
func NewPlayer(cfg config.PlayerConfig, lib *media.Library, logger Logger) *Player {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Player{
		binary: cfg.Binary,
		args:   cfg.Args,
		lib:    lib,
		logger: logger,
	}
}

// Play spawns the player for track. The track file must be readable;
// otherwise, as when the player binary is missing, the error wraps
// process.ErrSpawn.
func (p *Player) Play(track media.Track) (*process.Handle, error) {
	path := p.lib.Path(track)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: track %s: %w", process.ErrSpawn, track, err)
	}
	f.Close()

	args := append(append([]string(nil), p.args...), path)
	return process.Spawn(process.Config{
		Name:   "player",
		Binary: p.binary,
		Args:   args,
		Logger: p.logger,
	})
}
