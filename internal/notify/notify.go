package notify

import (
	"sync"

	"github.com/nerrad567/tagbox-core/internal/playback"
)

// Channel names. WebSocket clients subscribe to these; MQTT publishes
// them under event/<name>.
const (
	TrackUpdate          = "track_update"
	RegistrationResult   = "registration_result"
	UnregistrationResult = "unregistration_result"
	DeletionResult       = "deletion_result"
	VolumeUpdate         = "volume_update"
	RefreshData          = "refresh_data"
)

// Channels lists every channel a client can subscribe to.
var Channels = []string{
	TrackUpdate,
	RegistrationResult,
	UnregistrationResult,
	DeletionResult,
	VolumeUpdate,
	RefreshData,
}

// TrackPayload is sent on TrackUpdate. A nil CurrentTrack encodes as null.
type TrackPayload struct {
	CurrentTrack *string `json:"current_track"`
}

// NewTrackPayload builds the payload for track; "" means nothing playing.
func NewTrackPayload(track string) TrackPayload {
	if track == "" {
		return TrackPayload{}
	}
	return TrackPayload{CurrentTrack: &track}
}

// VolumePayload is sent on VolumeUpdate.
type VolumePayload struct {
	Volume int `json:"volume"`
}

// RefreshPayload is sent on RefreshData.
type RefreshPayload struct {
	Mappings   map[string]string `json:"mappings"`
	AudioFiles []string          `json:"audio_files"`
}

// Sink receives every notification. Broadcast must not block.
type Sink interface {
	Broadcast(channel string, payload any)
}

// ScanRecorder is implemented by sinks that also want raw tag scans.
type ScanRecorder interface {
	RecordScan(scan playback.Scan)
}

// Logger is the logging surface used by Fanout.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Fanout delivers notifications to every registered sink. It satisfies
// playback.Notifier, so the coordinator's track changes reach the same
// sinks as control-plane results.
//
// Thread Safety: All methods are safe for concurrent use.
type Fanout struct {
	logger Logger

	mu    sync.RWMutex
	sinks []Sink
}

var _ playback.Notifier = (*Fanout)(nil)

// New creates a Fanout with the given sinks.
func New(logger Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Fanout{logger: logger, sinks: sinks}
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) snapshot() []Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Sink(nil), f.sinks...)
}

// Broadcast sends payload on channel to every sink.
func (f *Fanout) Broadcast(channel string, payload any) {
	sinks := f.snapshot()
	f.logger.Debug("notification", "channel", channel, "sinks", len(sinks))
	for _, s := range sinks {
		s.Broadcast(channel, payload)
	}
}

// TrackChanged implements playback.Notifier.
func (f *Fanout) TrackChanged(track string) {
	f.Broadcast(TrackUpdate, NewTrackPayload(track))
}

// TagScanned implements playback.Notifier.
func (f *Fanout) TagScanned(scan playback.Scan) {
	for _, s := range f.snapshot() {
		if r, ok := s.(ScanRecorder); ok {
			r.RecordScan(scan)
		}
	}
}
