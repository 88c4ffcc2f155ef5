package media

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// AllowedExtensions is the fixed set of playable file extensions, without the dot.
var AllowedExtensions = []string{"mp3", "wav", "ogg"}

// maxTrackNameLength keeps filenames well within ext4 and FAT limits.
const maxTrackNameLength = 255

// Track is the base filename of a playable file in the media directory.
// A Track value obtained from ParseTrack is always valid.
type Track string

// ParseTrack validates name as a track filename: no directory components,
// not hidden, and an allowed extension (case-insensitive).
func ParseTrack(name string) (Track, error) {
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty filename", ErrInvalidTrack)
	case len(name) > maxTrackNameLength:
		return "", fmt.Errorf("%w: filename too long", ErrInvalidTrack)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidTrack, name)
	case strings.HasPrefix(name, "."):
		return "", fmt.Errorf("%w: %q is hidden", ErrInvalidTrack, name)
	}

	if !AllowedExtension(name) {
		return "", fmt.Errorf("%w: %q must end in one of %s",
			ErrInvalidTrack, name, strings.Join(AllowedExtensions, ", "))
	}

	return Track(name), nil
}

// AllowedExtension reports whether filename has a playable extension.
func AllowedExtension(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// String returns the filename.
func (t Track) String() string {
	return string(t)
}

// Stem returns the filename without its extension, the form shown to
// listeners as the current track.
func (t Track) Stem() string {
	return strings.TrimSuffix(string(t), filepath.Ext(string(t)))
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename turns an uploaded filename into a safe base name: any
// directory part is dropped, runs of whitespace become "_", characters
// outside [A-Za-z0-9_.-] are removed, and dots and underscores are trimmed
// from both ends. The result may be empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, name)

	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}
