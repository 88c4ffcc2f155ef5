package mapping

import "errors"

// Domain errors for the mapping package.
//
//	if errors.Is(err, mapping.ErrNotFound) {
//	    // tag was never registered
//	}
var (
	// ErrNotFound is returned when a tag ID has no mapping.
	ErrNotFound = errors.New("mapping: not found")

	// ErrInvalidEntry is returned when a tag ID or track fails validation.
	ErrInvalidEntry = errors.New("mapping: invalid entry")

	// ErrPersist is returned when the mapping could not be written. The
	// in-memory mapping is left at its last committed state.
	ErrPersist = errors.New("mapping: persistence failed")
)
