package reader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session is an exclusive claim on the tag reader.
//
// Read blocks until a tag is presented, ctx ends or the hardware fails; it
// serves registration. Poll returns promptly, reporting ok=false when no
// tag is in the field; it serves the playback loop. Close may be called
// from any goroutine, more than once.
type Session interface {
	Read(ctx context.Context) (string, error)
	Poll(ctx context.Context) (tagID string, ok bool, err error)
	Close() error
}

// Conn is one open connection to the reader hardware, as provided by a
// Driver. Device wraps it in a Session.
type Conn interface {
	Read(ctx context.Context) (string, error)
	Poll(ctx context.Context) (string, bool, error)
	Close() error
}

// Driver opens connections to a particular kind of reader.
type Driver interface {
	Name() string
	Open() (Conn, error)
}

// Device guards a Driver so that at most one Session is open at a time
// across the whole process.
type Device struct {
	driver Driver

	mu   sync.Mutex
	open bool
}

// NewDevice wraps driver.
func NewDevice(driver Driver) *Device {
	return &Device{driver: driver}
}

// Driver returns the name of the underlying driver.
func (d *Device) Driver() string {
	return d.driver.Name()
}

// Busy reports whether a session is currently open.
func (d *Device) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Open claims the reader. It fails with ErrSessionBusy while another
// session is open, and with ErrReadFailed if the hardware cannot be opened.
func (d *Device) Open() (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil, ErrSessionBusy
	}

	conn, err := d.driver.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrReadFailed, d.driver.Name(), err)
	}

	d.open = true
	return &session{dev: d, conn: conn}, nil
}

func (d *Device) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

type session struct {
	dev  *Device
	conn Conn

	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	closed bool
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) Read(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	id, err := s.conn.Read(ctx)
	if err != nil && s.isClosed() {
		return "", ErrClosed
	}
	return id, err
}

func (s *session) Poll(ctx context.Context) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	id, ok, err := s.conn.Poll(ctx)
	if err != nil && s.isClosed() {
		return "", false, ErrClosed
	}
	return id, ok, err
}

// Close releases the hardware and then the exclusive slot, so a new
// session never overlaps the old connection.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.closeErr = s.conn.Close()
		s.dev.release()
	})
	return s.closeErr
}

// pollSleep paces blocking reads built from repeated probes.
const pollSleep = 20 * time.Millisecond

// readByPolling implements a blocking Read on top of a probe function.
func readByPolling(ctx context.Context, poll func(context.Context) (string, bool, error)) (string, error) {
	ticker := time.NewTicker(pollSleep)
	defer ticker.Stop()

	for {
		id, ok, err := poll(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
