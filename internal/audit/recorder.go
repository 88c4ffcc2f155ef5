package audit

import "context"

// recorderQueueSize bounds pending writes. Entries beyond it are dropped
// so a slow SD card never stalls a control-plane request.
const recorderQueueSize = 256

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially from a single goroutine,
// matching SQLite's single-writer model.
type Recorder struct {
	repo   Repository
	logger Logger
	ch     chan *Entry
	done   chan struct{}
}

// NewRecorder creates a recorder writing to repo. Call Run to start it.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Entry, recorderQueueSize),
		done:   make(chan struct{}),
	}
}

// Record enqueues an entry. Never blocks; a full queue drops the entry.
// Safe to call on a nil Recorder.
func (r *Recorder) Record(action, entityType, entityID, source string, details map[string]any) {
	if r == nil {
		return
	}

	entry := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     source,
		Details:    details,
	}

	select {
	case r.ch <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.ch:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) write(entry *Entry) {
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
