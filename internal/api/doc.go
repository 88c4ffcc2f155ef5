// Package api implements the HTTP REST API and WebSocket server.
//
// This package provides:
//   - REST endpoints under /api/v1 for mappings, the media library,
//     playback and volume, the audit log, health and metrics
//   - WebSocket hub that relays notifications to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - The embedded control page at / and raw audio at /media/{filename}
//
// Control-plane results are returned as their JSON form with an HTTP status
// that reflects the failure kind: 400 for invalid input, 404 for unknown
// tags or files, 504 when registration saw no tag, 500 otherwise.
// Request-level failures use the {status, code, message} envelope.
//
// There is no authentication: the box is a single-household appliance on a
// private network.
package api
