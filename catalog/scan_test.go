package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qoget/catalog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func taskAt(path string) catalog.DownloadTask {
	return catalog.DownloadTask{ //nolint:exhaustruct
		TargetPath: path,
		Ext:        ".mp3",
	}
}

func TestScanExistingFindsNonEmptyTarget(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "Band", "Album", "01 - One.mp3")
	writeFile(t, target, "audio bytes")

	existing := catalog.ScanExisting([]catalog.DownloadTask{taskAt(target)})
	assert.True(t, existing.Contains(target))
	assert.Equal(t, 1, existing.Len())
}

func TestScanExistingIgnoresZeroByteFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "Band", "Album", "01 - One.mp3")
	writeFile(t, target, "")

	existing := catalog.ScanExisting([]catalog.DownloadTask{taskAt(target)})
	assert.False(t, existing.Contains(target))
}

func TestScanExistingProbesAlternateExtensions(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "Band", "Album", "01 - One.mp3")
	writeFile(t, filepath.Join(base, "Band", "Album", "01 - One.flac"), "flac bytes")

	existing := catalog.ScanExisting([]catalog.DownloadTask{taskAt(target)})

	// The satisfied key is the planned path, not the alternate that matched.
	assert.True(t, existing.Contains(target))
}

func TestScanExistingIgnoresStrayTempFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "Band", "Album", "01 - One.mp3")
	writeFile(t, target+".tmp", "half-written download")

	existing := catalog.ScanExisting([]catalog.DownloadTask{taskAt(target)})
	assert.False(t, existing.Contains(target))
}

func TestScanPlanIdempotence(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	album := albumWithTracks("a1", "Band",
		albumTrack(1, "One", 1, "Band"),
		albumTrack(2, "Two", 2, "Band"),
	)
	tasks := catalog.CollectTasks(catalog.PurchaseList{Albums: []catalog.Album{album}, Tracks: nil}, base, ".mp3")

	// Simulate a fully succeeded run.
	for _, task := range tasks {
		writeFile(t, task.TargetPath, "audio bytes")
	}

	plan := catalog.BuildSyncPlan(tasks, catalog.ScanExisting(tasks), false)
	assert.Empty(t, plan.Downloads)
	require.Len(t, plan.Skipped, 2)
	for _, s := range plan.Skipped {
		assert.Equal(t, catalog.SkipAlreadyExists, s.Reason)
	}
}
