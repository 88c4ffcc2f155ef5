// Package process runs short-lived external programs such as the audio
// player and the feedback-sound player.
//
// Features:
//   - Spawn in a dedicated process group
//   - Completion watch: Done is closed exactly once per process
//   - Bounded Terminate: SIGTERM to the group, then SIGKILL, never hanging
//   - Output capture from stdout/stderr into debug logs
//
// Example usage:
//
//	h, err := process.Spawn(process.Config{
//	    Name:   "player",
//	    Binary: "mpg123",
//	    Args:   []string{"-q", "media/lullaby.mp3"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Terminate(time.Second)
//	<-h.Done()
package process
