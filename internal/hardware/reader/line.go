package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// maxLineID bounds an accepted identifier line.
const maxLineID = 64

// lineBuffer is how many scanned IDs may wait unread.
const lineBuffer = 16

// Line is the driver for readers that emit one tag ID per line: USB serial
// readers, and FIFOs fed by another program or by hand during bench tests.
type Line struct {
	path string
}

// NewLine creates a driver reading from path.
func NewLine(path string) *Line {
	return &Line{path: path}
}

// Name implements Driver.
func (l *Line) Name() string {
	return "line"
}

// Open implements Driver. The path is opened read-write where permitted so
// a FIFO does not report EOF each time its writer goes away.
func (l *Line) Open() (Conn, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR, 0)
	if err != nil {
		f, err = os.Open(l.path)
		if err != nil {
			return nil, err
		}
	}
	return NewLineConn(f), nil
}

type lineResult struct {
	id  string
	err error
}

type lineConn struct {
	rc    io.ReadCloser
	lines chan lineResult
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

// NewLineConn reads newline-delimited tag IDs from rc. Blank lines are
// ignored; any other line that is not an identifier is reported as
// ErrReadFailed. It takes ownership of rc.
func NewLineConn(rc io.ReadCloser) Conn {
	c := &lineConn{
		rc:    rc,
		lines: make(chan lineResult, lineBuffer),
		done:  make(chan struct{}),
	}
	go c.scan()
	return c
}

func (c *lineConn) scan() {
	defer close(c.lines)

	sc := bufio.NewScanner(c.rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		res := lineResult{id: line}
		if !validLineID(line) {
			res = lineResult{err: fmt.Errorf("%w: malformed line %q", ErrReadFailed, truncate(line))}
		}

		select {
		case c.lines <- res:
		case <-c.done:
			return
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.err = fmt.Errorf("%w: %w", ErrReadFailed, err)
	c.mu.Unlock()
}

func (c *lineConn) streamErr() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrReadFailed
	}
	return c.err
}

func (c *lineConn) Poll(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	select {
	case res, ok := <-c.lines:
		if !ok {
			return "", false, c.streamErr()
		}
		if res.err != nil {
			return "", false, res.err
		}
		return res.id, true, nil
	default:
		return "", false, nil
	}
}

func (c *lineConn) Read(ctx context.Context) (string, error) {
	select {
	case res, ok := <-c.lines:
		if !ok {
			return "", c.streamErr()
		}
		return res.id, res.err
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.rc.Close()
		if errors.Is(c.closeErr, os.ErrClosed) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

func validLineID(s string) bool {
	if len(s) > maxLineID {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}

func truncate(s string) string {
	if len(s) > maxLineID {
		return s[:maxLineID] + "..."
	}
	return s
}
