package bandcamp

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// audioExt is the only encoding Bandcamp archives are fetched in.
const audioExt = ".m4a"

// ExtractedTrack is one audio file recovered from a downloaded purchase,
// staged in the temp directory until it is moved into place.
type ExtractedTrack struct {
	TrackNumber int
	Title       string
	TempPath    string
}

// Extract unpacks a downloaded purchase blob into per-track temp files.
// Albums arrive as zip archives; single tracks arrive as bare audio files.
// Container detection uses the declared content type first, falling back to
// magic bytes.
func Extract(blob []byte, contentType, srcURL, tempDir string) ([]ExtractedTrack, error) {
	if strings.Contains(contentType, "zip") || mimetype.Detect(blob).Is("application/zip") {
		return extractZip(blob, tempDir)
	}

	return extractSingle(blob, srcURL, tempDir)
}

func extractZip(blob []byte, tempDir string) ([]ExtractedTrack, error) {
	archive, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if nil != err {
		return nil, fmt.Errorf("failed to open zip archive: %v", err)
	}

	var tracks []ExtractedTrack
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name), audioExt) {
			continue
		}

		// Entry names may carry a directory prefix like "Artist - Album/".
		number, title := ParseTrackFilename(path.Base(entry.Name))

		tempPath := filepath.Join(tempDir, "bc-"+uuid.NewString()+audioExt)
		if err := writeZipEntry(entry, tempPath); nil != err {
			return nil, fmt.Errorf("failed to extract zip entry %q: %w", entry.Name, err)
		}

		tracks = append(tracks, ExtractedTrack{TrackNumber: number, Title: title, TempPath: tempPath})
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].TrackNumber < tracks[j].TrackNumber
	})

	return tracks, nil
}

func writeZipEntry(entry *zip.File, tempPath string) (err error) {
	rc, err := entry.Open()
	if nil != err {
		return fmt.Errorf("failed to open entry: %v", err)
	}
	defer func() {
		if closeErr := rc.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close entry reader: %v", closeErr))
		}
	}()

	f, err := os.Create(tempPath)
	if nil != err {
		return fmt.Errorf("failed to create temp file: %v", err)
	}

	if _, err := io.Copy(f, rc); nil != err {
		err = errors.Join(err, f.Close())
		return fmt.Errorf("failed to write temp file: %v", err)
	}

	if err := f.Close(); nil != err {
		return fmt.Errorf("failed to close temp file: %v", err)
	}

	return nil
}

func extractSingle(blob []byte, srcURL, tempDir string) ([]ExtractedTrack, error) {
	tempPath := filepath.Join(tempDir, "bc-"+uuid.NewString()+audioExt)
	if err := os.WriteFile(tempPath, blob, 0o644); nil != err {
		return nil, fmt.Errorf("failed to write temp file: %v", err)
	}

	return []ExtractedTrack{{TrackNumber: 1, Title: titleFromURL(srcURL), TempPath: tempPath}}, nil
}

// titleFromURL derives a best-effort track title from the download URL's last
// path segment, stripping the query string and the audio suffix.
func titleFromURL(srcURL string) string {
	withoutQuery, _, _ := strings.Cut(srcURL, "?")
	segment := withoutQuery[strings.LastIndex(withoutQuery, "/")+1:]
	segment = strings.TrimSuffix(segment, audioExt)
	if segment == "" {
		return "Unknown"
	}

	return segment
}

// ParseTrackFilename splits an archive entry's base filename into a track
// number and title. Leading digits form the number, followed by a " - ",
// ". ", or space separator. Filenames with no leading digits get number 0.
func ParseTrackFilename(filename string) (int, string) {
	stem := filename
	if strings.HasSuffix(strings.ToLower(stem), audioExt) {
		stem = stem[:len(stem)-len(audioExt)]
	}

	digits := 0
	for digits < len(stem) && stem[digits] >= '0' && stem[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return 0, stem
	}

	number, err := strconv.Atoi(stem[:digits])
	if nil != err {
		number = 0
	}

	title := stem[digits:]
	for strings.HasPrefix(title, " - ") {
		title = title[len(" - "):]
	}
	for strings.HasPrefix(title, ". ") {
		title = title[len(". "):]
	}

	return number, strings.TrimLeft(title, " ")
}
