package notify

import (
	"strconv"

	"github.com/nerrad567/tagbox-core/internal/playback"
)

// Measurement names written by Telemetry.
const (
	MeasurementScan    = "tag_scan"
	MeasurementTrack   = "track"
	MeasurementVolume  = "volume"
	MeasurementControl = "control"
)

// PointWriter queues a time-series point. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// outcome is implemented by control-plane results.
type outcome interface {
	OK() bool
}

// Telemetry turns notifications and scans into time-series points.
// Refresh notifications carry no events worth recording and are skipped.
type Telemetry struct {
	w        PointWriter
	deviceID string
}

var (
	_ Sink         = (*Telemetry)(nil)
	_ ScanRecorder = (*Telemetry)(nil)
)

// NewTelemetry creates a telemetry sink tagging every point with deviceID.
func NewTelemetry(w PointWriter, deviceID string) *Telemetry {
	return &Telemetry{w: w, deviceID: deviceID}
}

func (t *Telemetry) tags(extra ...string) map[string]string {
	tags := map[string]string{"device_id": t.deviceID}
	for i := 0; i+1 < len(extra); i += 2 {
		tags[extra[i]] = extra[i+1]
	}
	return tags
}

// Broadcast implements Sink.
func (t *Telemetry) Broadcast(channel string, payload any) {
	switch channel {
	case TrackUpdate:
		p, ok := payload.(TrackPayload)
		if !ok {
			return
		}
		if p.CurrentTrack == nil {
			t.w.WritePoint(MeasurementTrack, t.tags("state", "stopped"), map[string]any{"track": ""})
			return
		}
		t.w.WritePoint(MeasurementTrack, t.tags("state", "playing"), map[string]any{"track": *p.CurrentTrack})

	case VolumeUpdate:
		if p, ok := payload.(VolumePayload); ok {
			t.w.WritePoint(MeasurementVolume, t.tags(), map[string]any{"level": p.Volume})
		}

	case RegistrationResult, UnregistrationResult, DeletionResult:
		status := "error"
		if r, ok := payload.(outcome); ok && r.OK() {
			status = "success"
		}
		t.w.WritePoint(MeasurementControl, t.tags("operation", channel, "status", status), map[string]any{"count": 1})
	}
}

// RecordScan implements ScanRecorder.
func (t *Telemetry) RecordScan(scan playback.Scan) {
	t.w.WritePoint(MeasurementScan, t.tags("mapped", strconv.FormatBool(scan.Mapped)), map[string]any{
		"tag_id": scan.TagID,
		"track":  scan.Track.String(),
	})
}
