// Package mapping holds the assignment of tag IDs to tracks.
//
// Rows are validated once, when loaded or registered, into typed Entry
// values. The Store keeps the committed mapping and hands out immutable
// Snapshots; a playback run resolves tags against the Snapshot it was
// started with, so edits only take effect after the run is restarted.
//
// Persistence rewrites the whole tag_mappings table in one transaction on
// every change. A failed write returns ErrPersist and leaves the committed
// mapping untouched.
package mapping
