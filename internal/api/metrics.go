package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/tagbox-core/internal/bridges/remote"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tagbox-core/internal/playback"
)

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	InfluxDB      InfluxMetrics   `json:"influxdb"`
	Database      DatabaseMetrics `json:"database"`
	Playback      *playback.Stats `json:"playback,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines  int     `json:"goroutines"`
	HeapMB      float64 `json:"heap_mb"`
	GCCycles    uint32  `json:"gc_cycles"`
	LastGCPause string  `json:"last_gc_pause,omitempty"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

type MQTTMetrics struct {
	Enabled   bool          `json:"enabled"`
	Connected bool          `json:"connected"`
	Bridge    *remote.Stats `json:"bridge,omitempty"`
}

type InfluxMetrics struct {
	Enabled   bool            `json:"enabled"`
	Connected bool            `json:"connected"`
	Writer    *influxdb.Stats `json:"writer,omitempty"`
}

type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// writerStats is satisfied by *influxdb.Client.
type writerStats interface {
	Stats() influxdb.Stats
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       runtimeMetrics(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	if s.mqtt != nil {
		m.MQTT.Enabled = true
		m.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.bridge != nil {
		bs := s.bridge.Stats()
		m.MQTT.Bridge = &bs
	}

	if s.influx != nil {
		m.InfluxDB.Enabled = true
		m.InfluxDB.Connected = s.influx.IsConnected()
		if ws, ok := s.influx.(writerStats); ok {
			st := ws.Stats()
			m.InfluxDB.Writer = &st
		}
	}

	if s.db != nil {
		pool := s.db.Stats()
		m.Database = DatabaseMetrics{
			OpenConnections: pool.OpenConnections,
			InUse:           pool.InUse,
			Idle:            pool.Idle,
			WaitCount:       pool.WaitCount,
		}
	}

	if s.playback != nil {
		ps := s.playback.Stats()
		m.Playback = &ps
	}

	writeJSON(w, http.StatusOK, m)
}

func runtimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rm := RuntimeMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(ms.HeapAlloc) / (1 << 20),
		GCCycles:   ms.NumGC,
	}
	if ms.NumGC > 0 {
		rm.LastGCPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256]).String()
	}
	return rm
}
