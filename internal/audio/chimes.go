package audio

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/process"
)

// Sound names a short feedback sound. The file played is <dir>/<name>.wav.
type Sound string

const (
	SoundBoot       Sound = "boot"
	SoundScanning   Sound = "scanning"
	SoundRegistered Sound = "registered"
	SoundPlay       Sound = "play"
	SoundError      Sound = "error"
	SoundDelete     Sound = "delete"
)

// chimeStopTimeout bounds stopping a chime; they are a second or two long.
const chimeStopTimeout = 200 * time.Millisecond

// Chimes plays feedback sounds in the background. Play does not wait on
// any player and never fails: a missing file or player is logged and
// skipped. Stop and Close wait for the sounds they cut off.
//
// Thread Safety: All methods are safe for concurrent use.
type Chimes struct {
	enabled bool
	dir     string
	binary  string
	args    []string
	logger  Logger

	mu   sync.Mutex
	live map[Sound]*process.Handle
}

// NewChimes creates a chime player from the sounds configuration.
func NewChimes(cfg config.SoundsConfig, logger Logger) *Chimes {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Chimes{
		enabled: cfg.Enabled,
		dir:     cfg.Dir,
		binary:  cfg.Binary,
		args:    cfg.Args,
		logger:  logger,
		live:    make(map[Sound]*process.Handle),
	}
}

// Path returns the file played for s.
func (c *Chimes) Path(s Sound) string {
	return filepath.Join(c.dir, string(s)+".wav")
}

// Play starts s. A previous instance of the same sound is cut off.
func (c *Chimes) Play(s Sound) {
	if !c.enabled {
		return
	}

	path := c.Path(s)
	if _, err := os.Stat(path); err != nil {
		c.logger.Warn("sound effect not available", "sound", s, "path", path, "error", err)
		return
	}

	args := append(append([]string(nil), c.args...), path)
	h, err := process.Spawn(process.Config{
		Name:   "sound-" + string(s),
		Binary: c.binary,
		Args:   args,
		Logger: c.logger,
	})
	if err != nil {
		c.logger.Warn("sound effect failed", "sound", s, "error", err)
		return
	}

	c.mu.Lock()
	prev := c.live[s]
	c.live[s] = h
	c.mu.Unlock()

	if prev != nil {
		// Reaping a killed player can take up to the kill grace period.
		go prev.Terminate(0) //nolint:errcheck // Best effort
	}

	go func() {
		<-h.Done()
		c.mu.Lock()
		if c.live[s] == h {
			delete(c.live, s)
		}
		c.mu.Unlock()
	}()
}

// Stop cuts off s if it is playing.
func (c *Chimes) Stop(s Sound) {
	c.mu.Lock()
	h := c.live[s]
	delete(c.live, s)
	c.mu.Unlock()

	if h != nil {
		if err := h.Terminate(chimeStopTimeout); err != nil {
			c.logger.Warn("stopping sound effect", "sound", s, "error", err)
		}
	}
}

// Playing reports whether s is currently audible.
func (c *Chimes) Playing(s Sound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.live[s]
	return ok && !h.Exited()
}

// Close stops every sound still playing.
func (c *Chimes) Close() {
	c.mu.Lock()
	live := c.live
	c.live = make(map[Sound]*process.Handle)
	c.mu.Unlock()

	for _, h := range live {
		h.Terminate(chimeStopTimeout) //nolint:errcheck // Shutting down
	}
}
