package audio

import "errors"

var (
	// ErrMixer is returned when the mixer command fails or its output
	// cannot be parsed.
	ErrMixer = errors.New("audio: mixer command failed")
)
