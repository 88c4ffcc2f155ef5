package reader

import "errors"

// Domain errors for the reader package.
var (
	// ErrReadFailed is returned when the hardware reports an error or
	// delivers data that is not a tag identifier.
	ErrReadFailed = errors.New("reader: read failed")

	// ErrSessionBusy is returned by Open while another session is open.
	ErrSessionBusy = errors.New("reader: session already open")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("reader: session closed")

	// ErrUnsupportedDriver is returned for an unknown driver type.
	ErrUnsupportedDriver = errors.New("reader: unsupported driver")
)
