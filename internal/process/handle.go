package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the state of a spawned process.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

const (
	// killGrace bounds the wait for exit after SIGKILL. Only a process stuck
	// in uninterruptible sleep (a wedged audio driver) outlives it.
	killGrace = 2 * time.Second

	// pipeWaitDelay bounds how long Wait keeps copying output once the
	// process has exited, in case a grandchild still holds the pipes.
	pipeWaitDelay = time.Second

	// maxLogLine truncates captured output lines.
	maxLogLine = 512
)

// Config describes one invocation of an external program.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the executable name or path; resolved through PATH.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// WorkDir is the working directory; empty inherits the parent's.
	WorkDir string

	// Logger receives lifecycle events and captured output at debug level.
	Logger Logger
}

// Logger defines the logging interface for spawned processes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle is a single running instance of an external program. It is never
// restarted: once Done is closed the handle is spent.
//
// All methods are safe for concurrent use.
type Handle struct {
	name    string
	cmd     *exec.Cmd
	logger  Logger
	started time.Time

	done chan struct{}
	// err is written once before done is closed.
	err error

	termOnce sync.Once
	termErr  error
}

// Spawn starts cfg.Binary in its own process group and begins watching it.
// Failure to find or start the binary returns an error wrapping ErrSpawn.
func Spawn(cfg Config) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, cfg.Name, err)
	}

	cmd := exec.Command(path, cfg.Args...) //nolint:gosec // Binary comes from local configuration

	// A new process group lets Terminate signal any children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	cmd.Stdout = &lineLogger{logger: logger, name: cfg.Name, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: logger, name: cfg.Name, stream: "stderr"}
	cmd.WaitDelay = pipeWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, cfg.Name, err)
	}

	h := &Handle{
		name:    cfg.Name,
		cmd:     cmd,
		logger:  logger,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	logger.Debug("process started", "name", cfg.Name, "pid", cmd.Process.Pid)

	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.err = err
	h.logger.Debug("process exited",
		"name", h.name,
		"pid", h.cmd.Process.Pid,
		"uptime", time.Since(h.started).Round(time.Millisecond),
		"error", err,
	)
	close(h.done)
}

// Done is closed exactly once, when the process has exited and its output
// has been drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its exit error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error once the process has exited, nil before.
func (h *Handle) Err() error {
	if !h.Exited() {
		return nil
	}
	return h.err
}

// PID returns the process ID.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Name returns the configured name.
func (h *Handle) Name() string {
	return h.name
}

// Uptime returns how long the process has been running, or 0 once exited.
func (h *Handle) Uptime() time.Duration {
	if h.Exited() {
		return 0
	}
	return time.Since(h.started)
}

// Terminate stops the process group: SIGTERM, a wait of up to timeout, then
// SIGKILL and a bounded wait for exit. A zero timeout kills immediately.
// Terminate never blocks indefinitely; if even SIGKILL does not reap the
// process it returns ErrTerminateTimeout. Later calls return the first
// call's result once it has completed.
func (h *Handle) Terminate(timeout time.Duration) error {
	h.termOnce.Do(func() {
		h.termErr = h.terminate(timeout)
	})
	return h.termErr
}

func (h *Handle) terminate(timeout time.Duration) error {
	if h.Exited() {
		return nil
	}

	pid := h.cmd.Process.Pid

	if timeout > 0 {
		// Negative PID signals the whole group created via Setpgid.
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			h.logger.Warn("failed to send SIGTERM to process group", "name", h.name, "error", err)
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-h.done:
			return nil
		case <-timer.C:
			h.logger.Warn("process ignored SIGTERM, sending SIGKILL",
				"name", h.name,
				"pid", pid,
				"timeout", timeout,
			)
		}
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", h.name, err)
	}

	grace := time.NewTimer(killGrace)
	defer grace.Stop()

	select {
	case <-h.done:
		return nil
	case <-grace.C:
		h.logger.Error("process did not exit after SIGKILL", "name", h.name, "pid", pid)
		return fmt.Errorf("%w: %s (pid %d)", ErrTerminateTimeout, h.name, pid)
	}
}

// Stats describes a spawned process.
type Stats struct {
	Name   string        `json:"name"`
	Status Status        `json:"status"`
	PID    int           `json:"pid"`
	Uptime time.Duration `json:"uptime,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Stats returns current statistics for the process.
func (h *Handle) Stats() Stats {
	s := Stats{
		Name:   h.name,
		Status: StatusRunning,
		PID:    h.PID(),
		Uptime: h.Uptime(),
	}
	if h.Exited() {
		s.Status = StatusExited
		if h.err != nil {
			s.Error = h.err.Error()
		}
	}
	return s
}

// lineLogger forwards process output to the logger one line at a time.
type lineLogger struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLogLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if len(line) > maxLogLine {
		line = line[:maxLogLine]
	}
	w.logger.Debug("process output", "name", w.name, "stream", w.stream, "output", string(line))
}
