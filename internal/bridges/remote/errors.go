package remote

import "errors"

// Domain errors for the remote bridge.
var (
	// ErrUnknownCommand is returned for a command topic with no handler.
	ErrUnknownCommand = errors.New("remote: unknown command")

	// ErrInvalidCommand is returned when a command payload cannot be parsed.
	ErrInvalidCommand = errors.New("remote: invalid command payload")
)
