package process

import "errors"

var (
	// ErrSpawn is returned when a program cannot be found or started.
	ErrSpawn = errors.New("process: spawn failed")

	// ErrTerminateTimeout is returned when a process survives SIGKILL
	// beyond the kill grace period.
	ErrTerminateTimeout = errors.New("process: did not exit after kill")
)
