package jukebox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/audit"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/notify"
	"github.com/nerrad567/tagbox-core/internal/playback"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// readerRetry is the wait between attempts to claim a busy reader.
const readerRetry = 50 * time.Millisecond

// Result is the outcome of a control-plane operation. It is also the
// payload of the matching *_result notification.
type Result struct {
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	TagID      string            `json:"tag_id,omitempty"`
	Track      string            `json:"track,omitempty"`
	Mappings   map[string]string `json:"mappings,omitempty"`
	AudioFiles []string          `json:"audio_files,omitempty"`

	// Err is the underlying failure, for callers that map it to a
	// transport status.
	Err error `json:"-"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func failure(err error, format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...), Err: err}
}

// State is the data a freshly connected client needs.
type State struct {
	CurrentTrack *string           `json:"current_track"`
	Volume       int               `json:"volume"`
	Mappings     map[string]string `json:"mappings"`
	AudioFiles   []string          `json:"audio_files"`
	Running      bool              `json:"running"`
}

type sourceKey struct{}

// WithSource tags ctx with the origin of a request ("api", "mqtt") for the
// audit log.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by WithSource, or "system".
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "system"
}

// Service is the control plane. It edits the mapping and the library, and
// keeps the playback coordinator in step: every committed mapping change
// restarts the coordinator with the new snapshot.
//
// Mapping edits are serialised. Registration holds the reader exclusively,
// so the coordinator is fully stopped while it waits for a tag.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg      Config
	store    *mapping.Store
	lib      *media.Library
	coord    Coordinator
	reader   playback.Reader
	mixer    Mixer
	light    indicator.Light
	chimes   Chimes
	notifier notify.Sink
	audit    Auditor
	logger   Logger

	// mu serialises operations that change the mapping.
	mu sync.Mutex
}

// New creates the service.
func New(cfg Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		lib:      deps.Library,
		coord:    deps.Coordinator,
		reader:   deps.Reader,
		mixer:    deps.Mixer,
		light:    deps.Light,
		chimes:   deps.Chimes,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		logger:   deps.Logger,
	}
	if s.light == nil {
		s.light = indicator.None{}
	}
	if s.chimes == nil {
		s.chimes = noopChimes{}
	}
	if s.notifier == nil {
		s.notifier = noopSink{}
	}
	if s.audit == nil {
		s.audit = noopAuditor{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Boot sets the initial volume, plays the boot chime and starts the
// coordinator with the committed mapping.
func (s *Service) Boot(ctx context.Context) error {
	if _, err := s.mixer.Set(ctx, s.cfg.InitialVolume); err != nil {
		s.logger.Warn("setting initial volume", "error", err)
	}
	s.chimes.Play(audio.SoundBoot)

	if err := s.coord.Start(s.store.Snapshot()); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	return nil
}

// Shutdown stops the coordinator.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Stop()
}

// Register waits for a tag and assigns audioFile to it.
//
// The coordinator is stopped for the read. Once the mapping is persisted
// it is restarted with the new snapshot; on any failure it is resumed with
// the last committed one. The result is also broadcast as
// registration_result.
func (s *Service) Register(ctx context.Context, audioFile string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.register(ctx, audioFile)
	s.notifier.Broadcast(notify.RegistrationResult, res)
	return res
}

func (s *Service) register(ctx context.Context, audioFile string) Result {
	track, err := media.ParseTrack(audioFile)
	if err != nil {
		return failure(err, "Invalid audio file: %s", audioFile)
	}
	if !s.lib.Exists(track) {
		return failure(fmt.Errorf("%w: %s", media.ErrNotFound, track), "Audio file not found: %s", track)
	}

	if err := s.coord.Stop(); err != nil {
		s.logger.Warn("playback did not stop cleanly before registration", "error", err)
	}

	tagID, err := s.readTag(ctx)
	if err != nil {
		s.logger.Warn("registration read failed", "track", track, "error", err)
		s.signalError()
		s.resume()
		return failure(err, "Failed to read tag: %v", err)
	}

	snap, err := s.store.Register(ctx, tagID, track.String())
	if err != nil {
		s.logger.Error("registration not saved", "tag_id", tagID, "track", track, "error", err)
		s.signalError()
		s.resume()
		return failure(err, "Failed to register tag %s: %v", tagID, err)
	}
	s.chimes.Play(audio.SoundRegistered)
	restartErr := s.restart(snap)

	s.audit.Record(audit.ActionRegister, audit.EntityMapping, tagID, SourceFrom(ctx), map[string]any{
		"track": track.String(),
	})
	s.logger.Info("tag registered", "tag_id", tagID, "track", track)

	return s.settle(Result{
		Status:   StatusSuccess,
		Message:  fmt.Sprintf("Tag %s registered to %s", tagID, track),
		TagID:    tagID,
		Track:    track.String(),
		Mappings: snap.Map(),
	}, restartErr)
}

// readTag claims the reader and blocks for one tag, flashing the scanning
// pattern meanwhile. It is bounded by RegistrationTimeout.
func (s *Service) readTag(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RegistrationTimeout)
	defer cancel()

	sess, err := s.openReader(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer sess.Close()

	s.chimes.Play(audio.SoundScanning)
	flashCtx, stopFlash := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.light.Flash(flashCtx, indicator.PatternScanning)
	}()

	tagID, err := sess.Read(ctx)

	stopFlash()
	wg.Wait()
	s.chimes.Stop(audio.SoundScanning)

	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRead, err)
	}
	return tagID, nil
}

// openReader claims the reader, waiting while an abandoned playback run
// still holds it.
func (s *Service) openReader(ctx context.Context) (reader.Session, error) {
	for {
		sess, err := s.reader.Open()
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, reader.ErrSessionBusy) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(readerRetry):
		}
	}
}

// Unregister removes the mapping for tagID.
func (s *Service) Unregister(ctx context.Context, tagID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.unregister(ctx, tagID)
	s.notifier.Broadcast(notify.UnregistrationResult, res)
	return res
}

func (s *Service) unregister(ctx context.Context, tagID string) Result {
	if tagID == "" {
		return failure(fmt.Errorf("%w: empty tag id", ErrInvalidRequest), "Tag ID is required")
	}

	snap, err := s.store.Unregister(ctx, tagID)
	if err != nil {
		if errors.Is(err, mapping.ErrNotFound) {
			return failure(err, "Tag %s is not registered", tagID)
		}
		s.logger.Error("unregistration not saved", "tag_id", tagID, "error", err)
		return failure(err, "Failed to unregister tag %s: %v", tagID, err)
	}
	restartErr := s.restart(snap)
	s.chimes.Play(audio.SoundDelete)

	s.audit.Record(audit.ActionUnregister, audit.EntityMapping, tagID, SourceFrom(ctx), nil)
	s.logger.Info("tag unregistered", "tag_id", tagID)

	return s.settle(Result{
		Status:   StatusSuccess,
		Message:  fmt.Sprintf("Tag %s unregistered", tagID),
		TagID:    tagID,
		Mappings: snap.Map(),
	}, restartErr)
}

// Delete removes file from the library along with every tag mapped to it.
func (s *Service) Delete(ctx context.Context, file string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.delete(ctx, file)
	s.notifier.Broadcast(notify.DeletionResult, res)
	return res
}

func (s *Service) delete(ctx context.Context, file string) Result {
	track, err := media.ParseTrack(file)
	if err != nil {
		return failure(err, "Invalid audio file: %s", file)
	}

	if err := s.lib.Delete(track); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return failure(err, "Audio file not found: %s", track)
		}
		s.logger.Error("deleting track", "track", track, "error", err)
		return failure(err, "Failed to delete %s: %v", track, err)
	}

	snap, removed, err := s.store.RemoveTrack(ctx, track)
	if err != nil {
		s.logger.Error("mapping cleanup not saved", "track", track, "error", err)
		return failure(err, "Deleted %s but failed to remove its tags: %v", track, err)
	}
	restartErr := s.restart(snap)
	s.chimes.Play(audio.SoundDelete)

	s.audit.Record(audit.ActionDelete, audit.EntityTrack, track.String(), SourceFrom(ctx), map[string]any{
		"mappings_removed": removed,
	})
	s.logger.Info("track deleted", "track", track, "mappings_removed", removed)

	files, err := s.lib.Filenames()
	if err != nil {
		s.logger.Warn("listing library after delete", "error", err)
	}
	return s.settle(Result{
		Status:     StatusSuccess,
		Message:    fmt.Sprintf("Deleted %s and %d tag mapping(s)", track, removed),
		Track:      track.String(),
		Mappings:   snap.Map(),
		AudioFiles: files,
	}, restartErr)
}

// Upload stores a new track under the sanitised form of filename.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) Result {
	track, err := s.lib.Save(filename, r)
	if err != nil {
		if errors.Is(err, media.ErrInvalidTrack) {
			return failure(err, "Invalid file type: allowed types are %v", media.AllowedExtensions)
		}
		s.logger.Error("saving upload", "filename", filename, "error", err)
		return failure(err, "Failed to save %s: %v", filename, err)
	}

	s.audit.Record(audit.ActionUpload, audit.EntityTrack, track.String(), SourceFrom(ctx), nil)
	s.logger.Info("track uploaded", "track", track)
	s.LibraryChanged()

	files, err := s.lib.Filenames()
	if err != nil {
		s.logger.Warn("listing library after upload", "error", err)
	}
	return Result{
		Status:     StatusSuccess,
		Message:    fmt.Sprintf("Uploaded %s", track),
		Track:      track.String(),
		AudioFiles: files,
	}
}

// LibraryChanged broadcasts refresh_data with the current mapping and
// file list.
func (s *Service) LibraryChanged() {
	files, err := s.lib.Filenames()
	if err != nil {
		s.logger.Warn("listing library", "error", err)
		return
	}
	s.notifier.Broadcast(notify.RefreshData, notify.RefreshPayload{
		Mappings:   s.store.Snapshot().Map(),
		AudioFiles: files,
	})
}

// StopPlayback stops the current track. The loop keeps running.
func (s *Service) StopPlayback(ctx context.Context) Result {
	s.coord.StopPlayback()
	s.audit.Record(audit.ActionStop, audit.EntityPlayback, "", SourceFrom(ctx), nil)
	return Result{Status: StatusSuccess, Message: "Playback stopped"}
}

// SetVolume clamps level to [0, 100], applies it and returns the clamped
// level. The level is returned even when the mixer fails.
func (s *Service) SetVolume(ctx context.Context, level int) (int, error) {
	applied, err := s.mixer.Set(ctx, level)
	if err != nil {
		s.logger.Error("setting volume", "level", applied, "error", err)
		return applied, err
	}

	s.notifier.Broadcast(notify.VolumeUpdate, notify.VolumePayload{Volume: applied})
	s.audit.Record(audit.ActionVolume, audit.EntityPlayback, "", SourceFrom(ctx), map[string]any{
		"level": applied,
	})
	return applied, nil
}

// Volume returns the current level, or 0 if the mixer cannot be read.
func (s *Service) Volume(ctx context.Context) int {
	level, err := s.mixer.Level(ctx)
	if err != nil {
		s.logger.Warn("reading volume", "error", err)
		return 0
	}
	return level
}

// Mappings returns the committed mapping.
func (s *Service) Mappings() mapping.Snapshot {
	return s.store.Snapshot()
}

// Library returns the media library.
func (s *Service) Library() *media.Library {
	return s.lib
}

// State gathers the data shown on the control page.
func (s *Service) State(ctx context.Context) State {
	st := State{
		Volume:   s.Volume(ctx),
		Running:  s.coord.Running(),
		Mappings: s.store.Snapshot().Map(),
	}
	if track, ok := s.coord.CurrentTrack(); ok {
		st.CurrentTrack = &track
	}

	files, err := s.lib.Filenames()
	if err != nil {
		s.logger.Warn("listing library", "error", err)
	}
	if files == nil {
		files = []string{}
	}
	st.AudioFiles = files
	return st
}

func (s *Service) restart(snap mapping.Snapshot) error {
	if err := s.coord.Restart(snap); err != nil {
		s.logger.Error("restarting playback", "error", err)
		return fmt.Errorf("restarting playback: %w", err)
	}
	return nil
}

// settle turns the result of a committed change into an error result when
// the coordinator could not be restarted with it. The change stays saved.
func (s *Service) settle(res Result, restartErr error) Result {
	if restartErr == nil {
		return res
	}
	s.signalError()
	res.Status = StatusError
	res.Message = fmt.Sprintf("%s, but playback could not be restarted: %v", res.Message, restartErr)
	res.Err = restartErr
	return res
}

// resume restarts the coordinator with the committed mapping after a
// failed registration.
func (s *Service) resume() {
	if err := s.coord.Start(s.store.Snapshot()); err != nil && !errors.Is(err, playback.ErrAlreadyRunning) {
		s.logger.Error("resuming playback", "error", err)
	}
}

func (s *Service) signalError() {
	s.chimes.Play(audio.SoundError)
	s.light.Flash(context.Background(), indicator.PatternError)
}
