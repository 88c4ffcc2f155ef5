package mapping

import (
	"sort"

	"github.com/nerrad567/tagbox-core/internal/media"
)

// Snapshot is an immutable view of the mapping. A playback run holds one
// for its whole lifetime, so Resolve answers identically until the run is
// replaced. The zero value is an empty mapping.
type Snapshot struct {
	entries map[TagID]media.Track
}

// NewSnapshot builds a snapshot from entries. A later entry for the same
// tag ID replaces an earlier one.
func NewSnapshot(entries []Entry) Snapshot {
	m := make(map[TagID]media.Track, len(entries))
	for _, e := range entries {
		m[e.TagID] = e.Track
	}
	return Snapshot{entries: m}
}

// Resolve returns the track assigned to tagID.
func (s Snapshot) Resolve(tagID string) (media.Track, bool) {
	t, ok := s.entries[TagID(tagID)]
	return t, ok
}

// Len returns the number of mapped tags.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Entries returns the mapping sorted by tag ID.
func (s Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for id, t := range s.entries {
		out = append(out, Entry{TagID: id, Track: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Map returns a fresh tag ID to filename map, the shape sent to clients.
func (s Snapshot) Map() map[string]string {
	out := make(map[string]string, len(s.entries))
	for id, t := range s.entries {
		out[string(id)] = string(t)
	}
	return out
}

func (s Snapshot) clone() map[TagID]media.Track {
	m := make(map[TagID]media.Track, len(s.entries)+1)
	for id, t := range s.entries {
		m[id] = t
	}
	return m
}

func (s Snapshot) with(e Entry) Snapshot {
	m := s.clone()
	m[e.TagID] = e.Track
	return Snapshot{entries: m}
}

func (s Snapshot) without(id TagID) (Snapshot, bool) {
	if _, ok := s.entries[id]; !ok {
		return s, false
	}
	m := s.clone()
	delete(m, id)
	return Snapshot{entries: m}, true
}

// withoutTrack drops every entry whose value is track.
func (s Snapshot) withoutTrack(track media.Track) (Snapshot, int) {
	m := s.clone()
	removed := 0
	for id, t := range m {
		if t == track {
			delete(m, id)
			removed++
		}
	}
	return Snapshot{entries: m}, removed
}
