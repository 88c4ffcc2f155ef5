package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a single copy produces.
const DefaultDebounce = 500 * time.Millisecond

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Watcher reports changes to the set of playable files in a library
// directory, such as tracks copied in over scp or removed by hand.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   Logger
}

// NewWatcher starts watching lib's directory. onChange runs on the watcher
// goroutine once per burst of relevant events.
func NewWatcher(lib *Library, debounce time.Duration, onChange func(), logger Logger) (*Watcher, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating media watcher: %w", err)
	}
	if err := fsw.Add(lib.Dir()); err != nil {
		fsw.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("watching media directory: %w", err)
	}

	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close() //nolint:errcheck // Shutdown path

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("media directory changed", "file", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("media watcher error", "error", err)

		case <-timer.C:
			w.onChange()
		}
	}
}

// relevant filters out temp uploads and non-audio files. Chmod-only events
// are ignored since they do not change the listing.
func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) &&
		!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return AllowedExtension(base)
}
