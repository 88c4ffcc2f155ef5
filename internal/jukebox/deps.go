package jukebox

import (
	"context"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/notify"
	"github.com/nerrad567/tagbox-core/internal/playback"
)

// Coordinator is the lifecycle surface of the playback loop.
// *playback.Coordinator satisfies it.
type Coordinator interface {
	Start(snapshot mapping.Snapshot) error
	Stop() error
	Restart(snapshot mapping.Snapshot) error
	StopPlayback()
	CurrentTrack() (string, bool)
	Running() bool
}

var _ Coordinator = (*playback.Coordinator)(nil)

// Mixer sets and reads the output volume. *audio.Mixer satisfies it.
type Mixer interface {
	Set(ctx context.Context, level int) (int, error)
	Level(ctx context.Context) (int, error)
}

// Chimes plays feedback sounds. *audio.Chimes satisfies it.
type Chimes interface {
	Play(s audio.Sound)
	Stop(s audio.Sound)
}

// Auditor records control-plane actions. *audit.Recorder satisfies it.
type Auditor interface {
	Record(action, entityType, entityID, source string, details map[string]any)
}

// Logger defines the logging interface for the service.
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

type noopAuditor struct{}

func (noopAuditor) Record(string, string, string, string, map[string]any) {}

type noopSink struct{}

func (noopSink) Broadcast(string, any) {}

type noopChimes struct{}

func (noopChimes) Play(audio.Sound) {}
func (noopChimes) Stop(audio.Sound) {}

// Deps holds the service's collaborators. Store, Library, Coordinator,
// Reader and Mixer are required.
type Deps struct {
	Store       *mapping.Store
	Library     *media.Library
	Coordinator Coordinator
	Reader      playback.Reader
	Mixer       Mixer
	Light       indicator.Light
	Chimes      Chimes
	Notifier    notify.Sink
	Audit       Auditor
	Logger      Logger
}

// Config holds service settings.
type Config struct {
	// RegistrationTimeout bounds the wait for a tag during Register.
	RegistrationTimeout time.Duration

	// InitialVolume is applied by Boot.
	InitialVolume int
}
