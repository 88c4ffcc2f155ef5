package playback

import (
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/process"
)

// Reader hands out exclusive reader sessions. *reader.Device satisfies it.
type Reader interface {
	Open() (reader.Session, error)
}

// Process is one running player. *process.Handle satisfies it.
type Process interface {
	Done() <-chan struct{}
	Terminate(timeout time.Duration) error
}

var _ Process = (*process.Handle)(nil)

// Player starts playing a track.
type Player interface {
	Play(track media.Track) (Process, error)
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(track media.Track) (Process, error)

// Play calls f(track).
func (f PlayerFunc) Play(track media.Track) (Process, error) {
	return f(track)
}

// HandlePlayer adapts a player that returns process handles.
func HandlePlayer(play func(media.Track) (*process.Handle, error)) Player {
	return PlayerFunc(func(track media.Track) (Process, error) {
		h, err := play(track)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

// Chimes plays feedback sounds without blocking. *audio.Chimes satisfies it.
type Chimes interface {
	Play(s audio.Sound)
}

// Scan describes one tag read by the loop.
type Scan struct {
	TagID  string
	Track  media.Track
	Mapped bool
}

// Notifier receives state changes from the coordinator. Calls are made
// synchronously from coordinator goroutines and must not block.
type Notifier interface {
	// TrackChanged reports the current track; "" means nothing is playing.
	TrackChanged(track string)

	// TagScanned reports every tag the loop reads.
	TagScanned(scan Scan)
}

// Logger defines the logging interface for the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopNotifier struct{}

func (noopNotifier) TrackChanged(string) {}
func (noopNotifier) TagScanned(Scan)     {}

type noopChimes struct{}

func (noopChimes) Play(audio.Sound) {}

// Deps holds the collaborators a Coordinator drives.
type Deps struct {
	Reader   Reader
	Player   Player
	Light    indicator.Light
	Chimes   Chimes
	Notifier Notifier
	Logger   Logger
}

// Config holds the loop timings.
type Config struct {
	// StartupDelay lets the reader settle before the first poll of a run.
	StartupDelay time.Duration

	// PollInterval is the sleep between polls.
	PollInterval time.Duration

	// Cooldown follows an error or unknown tag, so one card held on the
	// reader does not fire repeatedly.
	Cooldown time.Duration

	// TerminateTimeout is the SIGTERM grace before the player is killed.
	TerminateTimeout time.Duration

	// JoinTimeout bounds how long Stop waits for the loop to exit.
	JoinTimeout time.Duration
}

// DefaultConfig returns the timings used on the device.
func DefaultConfig() Config {
	return Config{
		StartupDelay:     5 * time.Second,
		PollInterval:     100 * time.Millisecond,
		Cooldown:         time.Second,
		TerminateTimeout: time.Second,
		JoinTimeout:      2 * time.Second,
	}
}
