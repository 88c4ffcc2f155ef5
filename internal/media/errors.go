package media

import "errors"

// Domain errors for the media library.
var (
	// ErrInvalidTrack is returned when a filename is not a playable track name.
	ErrInvalidTrack = errors.New("media: invalid track")

	// ErrNotFound is returned when a track does not exist in the library.
	ErrNotFound = errors.New("media: track not found")
)
