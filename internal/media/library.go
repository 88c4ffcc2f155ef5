package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"
)

const (
	dirPermissions  = 0750
	filePermissions = 0640
)

// Info describes a track for listings. Metadata fields are empty when the
// file carries no readable tags.
type Info struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Library is the directory of playable tracks.
//
// Thread Safety: methods may be called concurrently; the filesystem is the
// only shared state.
type Library struct {
	dir string
}

// NewLibrary returns a library rooted at dir, creating the directory if needed.
func NewLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &Library{dir: dir}, nil
}

// Dir returns the media directory.
func (l *Library) Dir() string {
	return l.dir
}

// Path returns the absolute-or-relative path of track inside the library.
func (l *Library) Path(track Track) string {
	return filepath.Join(l.dir, string(track))
}

// Exists reports whether track is a regular file in the library.
func (l *Library) Exists(track Track) bool {
	fi, err := os.Stat(l.Path(track))
	return err == nil && fi.Mode().IsRegular()
}

// List returns the playable tracks in the library, sorted by name.
// Files with other extensions and hidden files are skipped.
func (l *Library) List() ([]Track, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading media directory: %w", err)
	}

	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		t, err := ParseTrack(e.Name())
		if err != nil {
			continue
		}
		tracks = append(tracks, t)
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i] < tracks[j] })
	return tracks, nil
}

// Filenames returns List as plain strings, the shape sent to clients.
func (l *Library) Filenames() ([]string, error) {
	tracks, err := l.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(tracks))
	for i, t := range tracks {
		names[i] = string(t)
	}
	return names, nil
}

// Info returns size and tag metadata for track.
func (l *Library) Info(track Track) (Info, error) {
	f, err := os.Open(l.Path(track))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, track)
		}
		return Info{}, fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("stat track: %w", err)
	}

	info := Info{
		Filename: string(track),
		Name:     track.Stem(),
		Size:     fi.Size(),
	}

	// Untagged files are common (WAV especially); fall back to the bare name.
	if md, err := tag.ReadFrom(f); err == nil {
		info.Title = strings.TrimSpace(md.Title())
		info.Artist = strings.TrimSpace(md.Artist())
		info.Album = strings.TrimSpace(md.Album())
		info.Format = string(md.FileType())
	}

	return info, nil
}

// Save writes r into the library under the sanitised form of name and
// returns the stored track. An existing file of the same name is replaced.
// The write goes through a temporary file so a failed upload never leaves a
// truncated track behind.
func (l *Library) Save(name string, r io.Reader) (Track, error) {
	track, err := ParseTrack(SanitizeFilename(name))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op after rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return "", fmt.Errorf("setting upload permissions: %w", err)
	}
	if err := os.Rename(tmpName, l.Path(track)); err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}

	return track, nil
}

// Delete removes track from the library.
func (l *Library) Delete(track Track) error {
	if err := os.Remove(l.Path(track)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, track)
		}
		return fmt.Errorf("deleting track: %w", err)
	}
	return nil
}
