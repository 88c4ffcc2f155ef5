package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
)

// Mixer percentages used for the lowest and highest audible level. Below
// about 25% the Pi's PCM output is inaudible through small speakers, and
// above 90% it clips.
const (
	mixerFloor = 25
	mixerCeil  = 90
)

// mixerTimeout bounds one amixer invocation.
const mixerTimeout = 3 * time.Second

var percentPattern = regexp.MustCompile(`(\d+)%`)

// Clamp limits level to [0, 100].
func Clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	default:
		return level
	}
}

// RemapVolume converts a user level in [0, 100] to the mixer percentage.
// Zero stays silent; 1..100 spread evenly over the audible range.
func RemapVolume(level int) int {
	level = Clamp(level)
	if level == 0 {
		return 0
	}
	return int(math.Round(mixerFloor + float64(level-1)*(mixerCeil-mixerFloor)/99))
}

// UnmapVolume is the inverse of RemapVolume, for mixer readings.
func UnmapVolume(percent int) int {
	if percent <= 0 {
		return 0
	}
	level := int(math.Round(float64(percent-mixerFloor)*99/(mixerCeil-mixerFloor))) + 1
	if level < 1 {
		return 1
	}
	return Clamp(level)
}

// Mixer sets and reads output volume through the ALSA amixer command.
//
// Thread Safety: All methods are safe for concurrent use.
type Mixer struct {
	binary  string
	control string
	logger  Logger

	mu    sync.Mutex
	level int
	known bool
}

// NewMixer creates a mixer for the configured control.
func NewMixer(cfg config.MixerConfig, logger Logger) *Mixer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mixer{binary: cfg.Binary, control: cfg.Control, logger: logger}
}

// Set clamps level, applies its remapped percentage and returns the
// clamped level. The same level always produces the same mixer setting.
func (m *Mixer) Set(ctx context.Context, level int) (int, error) {
	level = Clamp(level)
	percent := RemapVolume(level)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.run(ctx, "set", m.control, strconv.Itoa(percent)+"%"); err != nil {
		return level, err
	}

	m.level = level
	m.known = true
	m.logger.Debug("volume set", "level", level, "mixer_percent", percent)
	return level, nil
}

// Level returns the last level set through this mixer. Before any Set it
// reads the mixer and maps the percentage back.
func (m *Mixer) Level(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.known {
		return m.level, nil
	}

	out, err := m.run(ctx, "get", m.control)
	if err != nil {
		return 0, err
	}
	match := percentPattern.FindSubmatch(out)
	if match == nil {
		return 0, fmt.Errorf("%w: no percentage in %s output", ErrMixer, m.binary)
	}
	percent, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMixer, err)
	}
	return UnmapVolume(percent), nil
}

func (m *Mixer) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, mixerTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, m.binary, args...).CombinedOutput() //nolint:gosec // Binary comes from local configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %s %v: %w", ErrMixer, m.binary, args, err)
	}
	return out, nil
}
