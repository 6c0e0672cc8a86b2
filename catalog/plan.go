package catalog

import "fmt"

// CollectTasks flattens every album track listing and every standalone track
// purchase into download tasks. Standalone purchases get a synthesized
// single-track album so path building sees uniform input.
func CollectTasks(purchases PurchaseList, base string, ext string) []DownloadTask {
	var tasks []DownloadTask

	for _, album := range purchases.Albums {
		if nil == album.Tracks {
			continue
		}
		for _, track := range album.Tracks.Items {
			tasks = append(tasks, DownloadTask{
				Track:      track,
				Album:      album,
				TargetPath: TrackPath(base, album, track, ext),
				Ext:        ext,
			})
		}
	}

	for _, track := range purchases.Tracks {
		album := StandaloneAlbum(track)
		tasks = append(tasks, DownloadTask{
			Track:      track,
			Album:      album,
			TargetPath: TrackPath(base, album, track, ext),
			Ext:        ext,
		})
	}

	return tasks
}

// StandaloneAlbum synthesizes a minimal single-track album for a standalone
// track purchase.
func StandaloneAlbum(track Track) Album {
	return Album{
		ID:          AlbumID(fmt.Sprintf("standalone-%s", track.ID)),
		Title:       track.Title,
		Version:     nil,
		Artist:      track.Performer,
		MediaCount:  1,
		TracksCount: 1,
		Tracks:      nil,
	}
}

// BuildSyncPlan deduplicates tasks by track id and classifies each survivor
// as a download or a skip. Pure function, no I/O.
//
// When the same track appears in multiple purchases, the version owned by a
// real album (TracksCount > 1) wins over a standalone; otherwise the later
// task wins. Output keeps the first-seen order of surviving track ids, so
// identical inputs always produce identical plans.
func BuildSyncPlan(tasks []DownloadTask, existing ExistingFiles, dryRun bool) SyncPlan {
	var (
		best  = make(map[TrackID]DownloadTask, len(tasks))
		order = make([]TrackID, 0, len(tasks))
	)
	for _, task := range tasks {
		id := task.Track.ID
		if prev, ok := best[id]; ok {
			if prev.Album.TracksCount > 1 && task.Album.TracksCount <= 1 {
				continue
			}
			best[id] = task
			continue
		}
		best[id] = task
		order = append(order, id)
	}

	plan := SyncPlan{ //nolint:exhaustruct
		TotalTracks: len(order),
	}

	for _, id := range order {
		task := best[id]
		switch {
		case existing.Contains(task.TargetPath):
			plan.Skipped = append(plan.Skipped, SkippedTrack{
				Track:      task.Track,
				TargetPath: task.TargetPath,
				Reason:     SkipAlreadyExists,
			})
		case dryRun:
			plan.Skipped = append(plan.Skipped, SkippedTrack{
				Track:      task.Track,
				TargetPath: task.TargetPath,
				Reason:     SkipDryRun,
			})
		default:
			plan.Downloads = append(plan.Downloads, task)
		}
	}

	return plan
}
