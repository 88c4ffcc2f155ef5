package playback

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("playback: coordinator already running")

	// ErrStopTimeout is returned when the loop did not exit within the
	// join timeout. The run has been abandoned and its state reset.
	ErrStopTimeout = errors.New("playback: loop did not stop in time")
)
