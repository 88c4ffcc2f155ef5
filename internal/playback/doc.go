// Package playback runs the loop that turns tag scans into music.
//
// A Coordinator run polls the tag reader, resolves each tag against the
// mapping snapshot the run was started with, and keeps exactly one player
// process for the most recent track:
//
//   - no tag: sleep a poll interval
//   - unknown tag or read error: error flash and chime, cool down
//   - the tag of the track already playing: nothing
//   - any other mapped tag: stop the old player, then start the new one
//
// The light is on while a track plays. When a player exits on its own the
// current track is cleared and announced.
//
// Control-plane edits never reach a running loop. They are applied by
// Restart, which stops the run (releasing the reader session) and starts
// a new one with a fresh snapshot. Stop and Restart never block longer
// than the configured join timeout.
//
// Example usage:
//
//	c := playback.New(playback.DefaultConfig(), playback.Deps{
//	    Reader: dev,
//	    Player: playback.HandlePlayer(player.Play),
//	    Light:  led,
//	})
//	if err := c.Start(store.Snapshot()); err != nil {
//	    return err
//	}
//	defer c.Stop()
package playback
