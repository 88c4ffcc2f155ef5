package jukebox

import "errors"

var (
	// ErrRead is returned when registration could not read a tag: the
	// reader failed, stayed busy, or no tag arrived before the timeout.
	ErrRead = errors.New("jukebox: tag read failed")

	// ErrInvalidRequest is returned for malformed operation arguments.
	ErrInvalidRequest = errors.New("jukebox: invalid request")
)
