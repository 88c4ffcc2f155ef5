// Package jukebox is the control plane of the player.
//
// It owns the operations a user triggers from the web page or MQTT:
// registering a tag to a track, unregistering a tag, deleting or uploading
// tracks, stopping playback and changing the volume. Every committed
// mapping change restarts the playback coordinator with the new snapshot.
//
// Registration claims the tag reader exclusively. The coordinator is
// stopped first, the reader is read once with a timeout while the scanning
// pattern flashes, and the coordinator is restarted (or resumed with the
// previous mapping if anything failed).
//
// Example usage:
//
//	svc := jukebox.New(cfg, jukebox.Deps{
//	    Store:       store,
//	    Library:     lib,
//	    Coordinator: coord,
//	    Reader:      device,
//	    Mixer:       mixer,
//	})
//	if err := svc.Boot(ctx); err != nil {
//	    return err
//	}
//	res := svc.Register(jukebox.WithSource(ctx, "api"), "lullaby.mp3")
package jukebox
