package mapping

import (
	"fmt"
	"strings"

	"github.com/nerrad567/tagbox-core/internal/media"
)

// maxTagIDLength covers 10-byte UIDs in any common textual form.
const maxTagIDLength = 64

// TagID is the textual identifier a reader reports for a tag.
type TagID string

// ParseTagID trims s and checks it is a plausible reader identifier: non-empty,
// bounded in length, and made of letters, digits, ':' or '-'.
func ParseTagID(s string) (TagID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty tag id", ErrInvalidEntry)
	}
	if len(s) > maxTagIDLength {
		return "", fmt.Errorf("%w: tag id longer than %d characters", ErrInvalidEntry, maxTagIDLength)
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == ':', r == '-':
		default:
			return "", fmt.Errorf("%w: tag id %q contains %q", ErrInvalidEntry, s, r)
		}
	}
	return TagID(s), nil
}

// Entry is one validated tag to track assignment.
type Entry struct {
	TagID TagID       `json:"tag_id"`
	Track media.Track `json:"track"`
}

// NewEntry validates a raw tag ID and filename pair.
func NewEntry(tagID, track string) (Entry, error) {
	id, err := ParseTagID(tagID)
	if err != nil {
		return Entry{}, err
	}
	t, err := media.ParseTrack(track)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	return Entry{TagID: id, Track: t}, nil
}

// Record is an unvalidated row as stored.
type Record struct {
	TagID string
	Track string
}
