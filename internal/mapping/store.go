package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/nerrad567/tagbox-core/internal/media"
)

// Logger defines the logging interface used by the Store.
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

// Store owns the committed mapping. Every mutation builds a new Snapshot,
// persists it wholesale, and only then makes it current; a failed write
// leaves the previous snapshot in place.
//
// All public methods are thread-safe. Mutations are serialised.
type Store struct {
	repo   Repository
	logger Logger

	mu   sync.Mutex
	snap Snapshot
}

// NewStore creates an empty store backed by repo. Call Load before use.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load replaces the in-memory mapping with the stored one. Rows that fail
// validation are skipped and reported in the returned count; they stay in
// the database until the next mutation rewrites it.
func (s *Store) Load(ctx context.Context) (rejected int, err error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading tag mappings: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		e, err := NewEntry(rec.TagID, rec.Track)
		if err != nil {
			rejected++
			s.logger.Warn("skipping invalid tag mapping",
				"tag_id", rec.TagID,
				"track", rec.Track,
				"error", err,
			)
			continue
		}
		entries = append(entries, e)
	}

	s.mu.Lock()
	s.snap = NewSnapshot(entries)
	s.mu.Unlock()

	s.logger.Info("tag mappings loaded", "count", len(entries), "rejected", rejected)
	return rejected, nil
}

// Snapshot returns the current committed mapping.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Register assigns track to tagID, replacing any previous assignment.
func (s *Store) Register(ctx context.Context, tagID, track string) (Snapshot, error) {
	e, err := NewEntry(tagID, track)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, s.snap.with(e))
}

// Unregister removes tagID. Returns ErrNotFound if it is not mapped.
func (s *Store) Unregister(ctx context.Context, tagID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.snap.without(TagID(tagID))
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, tagID)
	}
	return s.commit(ctx, next)
}

// RemoveTrack removes every tag mapped to track and reports how many were
// removed. Removing zero entries is not an error and does not write.
func (s *Store) RemoveTrack(ctx context.Context, track media.Track) (Snapshot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, removed := s.snap.withoutTrack(track)
	if removed == 0 {
		return s.snap, 0, nil
	}
	snap, err := s.commit(ctx, next)
	if err != nil {
		return Snapshot{}, 0, err
	}
	return snap, removed, nil
}

// ImportLegacy loads a JSON object of tag ID to filename into an empty
// store. A missing file, or a store that already has mappings, is a no-op.
// Invalid pairs are skipped.
func (s *Store) ImportLegacy(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading legacy mapping file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parsing legacy mapping file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Len() > 0 {
		return 0, nil
	}

	entries := make([]Entry, 0, len(raw))
	for id, track := range raw {
		e, err := NewEntry(id, track)
		if err != nil {
			s.logger.Warn("skipping invalid legacy mapping", "tag_id", id, "track", track, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if _, err := s.commit(ctx, NewSnapshot(entries)); err != nil {
		return 0, err
	}
	s.logger.Info("imported legacy tag mappings", "path", path, "count", len(entries))
	return len(entries), nil
}

// commit persists next and makes it current. Caller holds s.mu.
func (s *Store) commit(ctx context.Context, next Snapshot) (Snapshot, error) {
	if err := s.repo.ReplaceAll(ctx, next.Entries()); err != nil {
		s.logger.Error("persisting tag mappings failed", "error", err)
		return Snapshot{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.snap = next
	return next, nil
}
