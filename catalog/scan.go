package catalog

import (
	"os"
	"strings"
)

// AltExtensions are probed when deciding whether a planned track is already
// materialized under a different audio format, e.g., a task planned as .mp3
// that a previous run downloaded as .flac via format fallback.
var AltExtensions = []string{".mp3", ".flac", ".m4a"}

// ExistingFiles is the set of planned target paths considered satisfied on
// disk.
type ExistingFiles struct {
	paths map[string]struct{}
}

func (e ExistingFiles) Contains(path string) bool {
	_, ok := e.paths[path]
	return ok
}

func (e ExistingFiles) Len() int {
	return len(e.paths)
}

// ScanExisting stats every task's target path, falling back to the known
// alternate audio extensions. A satisfied alternate records the original
// planned path, so plan classification keys uniformly. Zero-byte files count
// as absent; they are the residue of a previously crashed download.
func ScanExisting(tasks []DownloadTask) ExistingFiles {
	existing := ExistingFiles{paths: make(map[string]struct{}, len(tasks))}

	for _, task := range tasks {
		if fileExistsNonEmpty(task.TargetPath) {
			existing.paths[task.TargetPath] = struct{}{}
			continue
		}

		stem := strings.TrimSuffix(task.TargetPath, task.Ext)
		for _, altExt := range AltExtensions {
			if altExt == task.Ext {
				continue
			}
			if fileExistsNonEmpty(stem + altExt) {
				existing.paths[task.TargetPath] = struct{}{}
				break
			}
		}
	}

	return existing
}

func fileExistsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if nil != err {
		return false
	}

	return info.Mode().IsRegular() && info.Size() > 0
}
