// Package notify fans state changes out to connected clients.
//
// Every notification has a channel name and a JSON-encodable payload.
// Sinks (the WebSocket hub, the MQTT publisher, telemetry) register with a
// Fanout, which the playback coordinator and the control plane share.
package notify
