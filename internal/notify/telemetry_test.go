package notify

import (
	"testing"

	"github.com/nerrad567/tagbox-core/internal/playback"
)

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
}

type recordingWriter struct {
	points []point
}

func (w *recordingWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	w.points = append(w.points, point{measurement, tags, fields})
}

type result bool

func (r result) OK() bool { return bool(r) }

func TestTelemetry_Broadcast(t *testing.T) {
	tests := []struct {
		name      string
		channel   string
		payload   any
		wantMeas  string
		wantTag   [2]string
		wantField [2]any
	}{
		{"playing", TrackUpdate, NewTrackPayload("lullaby"), MeasurementTrack, [2]string{"state", "playing"}, [2]any{"track", "lullaby"}},
		{"stopped", TrackUpdate, NewTrackPayload(""), MeasurementTrack, [2]string{"state", "stopped"}, [2]any{"track", ""}},
		{"volume", VolumeUpdate, VolumePayload{Volume: 40}, MeasurementVolume, [2]string{"device_id", "nursery"}, [2]any{"level", 40}},
		{"registration ok", RegistrationResult, result(true), MeasurementControl, [2]string{"status", "success"}, [2]any{"count", 1}},
		{"deletion failed", DeletionResult, result(false), MeasurementControl, [2]string{"operation", DeletionResult}, [2]any{"count", 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			NewTelemetry(w, "nursery").Broadcast(tt.channel, tt.payload)

			if len(w.points) != 1 {
				t.Fatalf("wrote %d points, want 1", len(w.points))
			}
			p := w.points[0]
			if p.measurement != tt.wantMeas {
				t.Errorf("measurement = %q, want %q", p.measurement, tt.wantMeas)
			}
			if p.tags["device_id"] != "nursery" {
				t.Errorf("device_id tag = %q", p.tags["device_id"])
			}
			if p.tags[tt.wantTag[0]] != tt.wantTag[1] {
				t.Errorf("tag %s = %q, want %q", tt.wantTag[0], p.tags[tt.wantTag[0]], tt.wantTag[1])
			}
			if p.fields[tt.wantField[0].(string)] != tt.wantField[1] {
				t.Errorf("field %v = %v, want %v", tt.wantField[0], p.fields[tt.wantField[0].(string)], tt.wantField[1])
			}
		})
	}
}

func TestTelemetry_SkipsRefresh(t *testing.T) {
	w := &recordingWriter{}
	NewTelemetry(w, "nursery").Broadcast(RefreshData, RefreshPayload{})

	if len(w.points) != 0 {
		t.Errorf("wrote %d points for refresh_data", len(w.points))
	}
}

func TestTelemetry_RecordScan(t *testing.T) {
	w := &recordingWriter{}
	tel := NewTelemetry(w, "nursery")

	tel.RecordScan(playback.Scan{TagID: "123456789012", Track: "song.mp3", Mapped: true})
	tel.RecordScan(playback.Scan{TagID: "999"})

	if len(w.points) != 2 {
		t.Fatalf("wrote %d points, want 2", len(w.points))
	}
	if p := w.points[0]; p.measurement != MeasurementScan || p.tags["mapped"] != "true" || p.fields["track"] != "song.mp3" {
		t.Errorf("mapped scan = %+v", p)
	}
	if p := w.points[1]; p.tags["mapped"] != "false" || p.fields["tag_id"] != "999" || p.fields["track"] != "" {
		t.Errorf("unmapped scan = %+v", p)
	}
}
