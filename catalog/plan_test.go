package catalog_test

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qoget/catalog"
)

func albumWithTracks(id catalog.AlbumID, artist string, tracks ...catalog.Track) catalog.Album {
	return catalog.Album{ //nolint:exhaustruct
		ID:          id,
		Title:       "Album " + string(id),
		Artist:      catalog.Artist{ID: 7, Name: artist},
		MediaCount:  1,
		TracksCount: len(tracks),
		Tracks: &catalog.PaginatedList[catalog.Track]{
			Offset: 0,
			Limit:  50,
			Total:  len(tracks),
			Items:  tracks,
		},
	}
}

func albumTrack(id catalog.TrackID, title string, number int, performer string) catalog.Track {
	return catalog.Track{ //nolint:exhaustruct
		ID:          id,
		Title:       title,
		TrackNumber: number,
		DiscNumber:  1,
		Duration:    180,
		Performer:   catalog.Artist{ID: 7, Name: performer},
	}
}

func TestCollectTasksFlattensAlbumsAndStandalones(t *testing.T) {
	t.Parallel()

	purchases := catalog.PurchaseList{
		Albums: []catalog.Album{
			albumWithTracks("a1", "Band",
				albumTrack(1, "One", 1, "Band"),
				albumTrack(2, "Two", 2, "Band"),
			),
		},
		Tracks: []catalog.Track{albumTrack(3, "Single", 1, "Solo Act")},
	}

	tasks := catalog.CollectTasks(purchases, "/music", ".mp3")
	require.Len(t, tasks, 3)

	assert.Equal(t, "/music/Band/Album a1/01 - One.mp3", tasks[0].TargetPath)
	assert.Equal(t, "/music/Band/Album a1/02 - Two.mp3", tasks[1].TargetPath)

	// Standalone gets a synthesized single-track album named after itself.
	standalone := tasks[2]
	assert.Equal(t, catalog.AlbumID("standalone-3"), standalone.Album.ID)
	assert.Equal(t, 1, standalone.Album.TracksCount)
	assert.Equal(t, "/music/Solo Act/Single/01 - Single.mp3", standalone.TargetPath)
}

func TestCollectTasksSkipsAlbumsWithoutTrackListing(t *testing.T) {
	t.Parallel()

	album := albumWithTracks("a1", "Band")
	album.Tracks = nil

	tasks := catalog.CollectTasks(catalog.PurchaseList{Albums: []catalog.Album{album}, Tracks: nil}, "/music", ".mp3")
	assert.Empty(t, tasks)
}

func TestBuildSyncPlanPrefersAlbumVersionOverStandalone(t *testing.T) {
	t.Parallel()

	album := albumWithTracks("a1", "Band",
		albumTrack(10, "Hit", 1, "Band"),
		albumTrack(11, "Deep Cut", 2, "Band"),
	)
	purchases := catalog.PurchaseList{
		Albums: []catalog.Album{album},
		Tracks: []catalog.Track{albumTrack(10, "Hit", 1, "Band")},
	}

	tasks := catalog.CollectTasks(purchases, "/music", ".mp3")
	plan := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, false)

	require.Len(t, plan.Downloads, 2)
	assert.Empty(t, plan.Skipped)
	assert.Equal(t, 2, plan.TotalTracks)

	kept, ok := lo.Find(plan.Downloads, func(task catalog.DownloadTask) bool { return task.Track.ID == 10 })
	require.True(t, ok)
	assert.Equal(t, catalog.AlbumID("a1"), kept.Album.ID, "album-owned version must win over the standalone")
}

func TestBuildSyncPlanStandaloneOrderLaterWins(t *testing.T) {
	t.Parallel()

	first := albumTrack(10, "Hit", 1, "Band")
	second := albumTrack(10, "Hit (Remaster)", 1, "Band")
	purchases := catalog.PurchaseList{Albums: nil, Tracks: []catalog.Track{first, second}}

	tasks := catalog.CollectTasks(purchases, "/music", ".mp3")
	plan := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, false)

	require.Len(t, plan.Downloads, 1)
	assert.Equal(t, "Hit (Remaster)", plan.Downloads[0].Track.Title)
}

func TestBuildSyncPlanDownloadsAndSkipsAreDisjoint(t *testing.T) {
	t.Parallel()

	album := albumWithTracks("a1", "Band",
		albumTrack(1, "One", 1, "Band"),
		albumTrack(2, "Two", 2, "Band"),
		albumTrack(3, "Three", 3, "Band"),
	)
	tasks := catalog.CollectTasks(catalog.PurchaseList{Albums: []catalog.Album{album}, Tracks: nil}, "/music", ".mp3")

	plan := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, false)

	downloadIDs := lo.Map(plan.Downloads, func(task catalog.DownloadTask, _ int) catalog.TrackID { return task.Track.ID })
	skippedIDs := lo.Map(plan.Skipped, func(s catalog.SkippedTrack, _ int) catalog.TrackID { return s.Track.ID })
	assert.Empty(t, lo.Intersect(downloadIDs, skippedIDs))
	assert.Len(t, downloadIDs, plan.TotalTracks)
}

func TestBuildSyncPlanDryRunClassification(t *testing.T) {
	t.Parallel()

	album := albumWithTracks("a1", "Band", albumTrack(1, "One", 1, "Band"))
	tasks := catalog.CollectTasks(catalog.PurchaseList{Albums: []catalog.Album{album}, Tracks: nil}, "/music", ".mp3")

	plan := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, true)
	assert.Empty(t, plan.Downloads)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, catalog.SkipDryRun, plan.Skipped[0].Reason)
}

func TestBuildSyncPlanIsDeterministic(t *testing.T) {
	t.Parallel()

	purchases := catalog.PurchaseList{
		Albums: []catalog.Album{
			albumWithTracks("a1", "Band", albumTrack(1, "One", 1, "Band"), albumTrack(2, "Two", 2, "Band")),
			albumWithTracks("a2", "Other", albumTrack(3, "Three", 1, "Other")),
		},
		Tracks: []catalog.Track{albumTrack(4, "Single", 1, "Solo")},
	}

	tasks := catalog.CollectTasks(purchases, "/music", ".mp3")
	first := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, false)
	second := catalog.BuildSyncPlan(tasks, catalog.ExistingFiles{}, false)
	assert.Equal(t, first, second)
}
