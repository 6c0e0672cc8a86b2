package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxComponentBytes = 255

// Sanitize replaces or removes characters that are invalid or problematic in
// filesystem path components. Path separators and colons become dashes, shell
// and Windows specials are dropped, whitespace is trimmed, leading dots are
// stripped, space runs collapse to one, and the result is truncated to 255
// bytes on a rune boundary.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch ch {
		case '/', '\\', ':':
			b.WriteByte('-')
		case '*', '?', '"', '<', '>', '|':
		default:
			b.WriteRune(ch)
		}
	}

	trimmed := strings.TrimSpace(b.String())
	trimmed = strings.TrimLeft(trimmed, ".")

	var out strings.Builder
	out.Grow(len(trimmed))
	var prevSpace bool
	for _, ch := range trimmed {
		if ch == ' ' {
			if !prevSpace {
				out.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		out.WriteRune(ch)
		prevSpace = false
	}

	result := out.String()
	if len(result) > maxComponentBytes {
		end := maxComponentBytes
		for end > 0 && !utf8.RuneStart(result[end]) {
			end--
		}
		result = result[:end]
	}

	return result
}

// TrackPath builds the target path for a track file:
//
//	base/<artist>/<album>[/Disc <n>]/<NN> - [<performer> - ]<title><ext>
//
// The disc directory appears only for multi-disc albums. The performer prefix
// appears only when the track's performer differs from the album's credited
// artist, i.e., on compilations.
func TrackPath(base string, album Album, track Track, ext string) string {
	dir := filepath.Join(base, Sanitize(album.Artist.Name), Sanitize(album.Title))

	if album.MediaCount > 1 {
		dir = filepath.Join(dir, fmt.Sprintf("Disc %d", track.DiscNumber))
	}

	title := Sanitize(track.Title)

	var filename string
	if track.Performer.Name != album.Artist.Name {
		filename = fmt.Sprintf("%02d - %s - %s%s", track.TrackNumber, Sanitize(track.Performer.Name), title, ext)
	} else {
		filename = fmt.Sprintf("%02d - %s%s", track.TrackNumber, title, ext)
	}

	return filepath.Join(dir, filename)
}
