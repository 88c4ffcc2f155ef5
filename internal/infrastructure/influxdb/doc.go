// Package influxdb ships playback telemetry (tag scans, track starts,
// volume changes) to an InfluxDB v2 bucket.
//
// Points are queued on the batching writer of influxdb-client-go and sent
// in the background, so a slow or vanished server never holds up a scan.
// Failed batches are counted and reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePoint("volume",
//	    map[string]string{"device_id": "nursery"},
//	    map[string]any{"level": 40})
package influxdb
