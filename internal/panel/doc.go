// Package panel serves the control page as an embedded asset.
//
// The page (web/index.html, app.js, style.css) is compiled into the binary
// with go:embed. It talks to the /api/v1 endpoints and listens on the
// WebSocket for track, volume and result notifications.
//
// For development, Handler can serve the same files from a directory so
// the page can be edited without a rebuild.
package panel
