package bandcamp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xeptore/qoget/catalog"
)

const tempDirName = ".qoget-temp"

// ItemFailure records one collection item that could not be downloaded.
type ItemFailure struct {
	Description string
	Error       string
}

// SyncOutcome summarizes one Bandcamp sync run at item granularity.
type SyncOutcome struct {
	Downloaded    int
	Skipped       int
	WouldDownload int
	Failed        []ItemFailure
}

// ExecuteSync downloads every collection item that is not yet present under
// targetDir. Bandcamp delivers albums as zip archives, so the run operates
// per item rather than per track: an item whose album directory already
// holds audio files is skipped. Item failures are collected and the run
// continues.
func ExecuteSync(
	ctx context.Context,
	logger zerolog.Logger,
	client *Client,
	purchases *Purchases,
	targetDir string,
	dryRun bool,
) (SyncOutcome, error) {
	var outcome SyncOutcome

	tempDir := filepath.Join(targetDir, tempDirName)

	for _, item := range purchases.Items {
		desc := item.BandName + " - " + item.ItemTitle
		itemLogger := logger.With().Str("item", desc).Logger()

		key := item.SaleItemType + strconv.FormatUint(item.SaleItemID, 10)
		redownloadURL, ok := purchases.RedownloadURLs[key]
		if !ok {
			outcome.Failed = append(outcome.Failed, ItemFailure{
				Description: desc,
				Error:       fmt.Sprintf("no redownload URL found (key: %s)", key),
			})
			continue
		}

		album := itemAlbum(item)

		if isAlreadySynced(targetDir, album) {
			itemLogger.Debug().Msg("Already synced, skipping")
			outcome.Skipped++
			continue
		}

		if dryRun {
			itemLogger.Info().Msg("Would download")
			outcome.WouldDownload++
			continue
		}

		if err := os.MkdirAll(tempDir, 0o755); nil != err {
			return outcome, fmt.Errorf("failed to create temp directory: %v", err)
		}

		count, err := downloadItem(ctx, itemLogger, client, redownloadURL, item, album, targetDir, tempDir)
		if nil != err {
			itemLogger.Error().Err(err).Msg("Item download failed")
			outcome.Failed = append(outcome.Failed, ItemFailure{Description: desc, Error: err.Error()})
		} else {
			itemLogger.Info().Int("tracks", count).Msg("Item downloaded")
			outcome.Downloaded += count
		}

		if err := os.RemoveAll(tempDir); nil != err {
			itemLogger.Warn().Err(err).Msg("Failed to remove temp directory")
		}
	}

	return outcome, nil
}

func itemAlbum(item CollectionItem) catalog.Album {
	return catalog.Album{
		ID:          catalog.AlbumID("bc-" + strconv.FormatUint(item.ItemID, 10)),
		Title:       item.ItemTitle,
		Version:     nil,
		Artist:      catalog.Artist{ID: item.SaleItemID, Name: item.BandName},
		MediaCount:  1,
		TracksCount: 0,
		Tracks:      nil,
	}
}

// isAlreadySynced reports whether the item's album directory already holds
// audio files. Both albums and single tracks land under Artist/Title, so one
// check covers both.
func isAlreadySynced(targetDir string, album catalog.Album) bool {
	albumDir := filepath.Join(targetDir, catalog.Sanitize(album.Artist.Name), catalog.Sanitize(album.Title))

	entries, err := os.ReadDir(albumDir)
	if nil != err {
		return false
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), audioExt) {
			return true
		}
	}

	return false
}

// downloadItem resolves the item's download page, fetches the aac-hi archive,
// and places every extracted track under the album directory. Multi-track
// archives get synthetic track ids derived from the item id so paths stay
// stable across runs.
func downloadItem(
	ctx context.Context,
	logger zerolog.Logger,
	client *Client,
	redownloadURL string,
	item CollectionItem,
	album catalog.Album,
	targetDir, tempDir string,
) (int, error) {
	info, err := client.GetDownloadInfo(ctx, logger, redownloadURL)
	if nil != err {
		return 0, err
	}

	downloadURL, err := AacHiURL(info)
	if nil != err {
		return 0, err
	}

	extracted, err := client.DownloadAndExtract(ctx, logger, downloadURL, tempDir)
	if nil != err {
		return 0, err
	}

	if len(extracted) > 1 {
		count := 0
		for _, ext := range extracted {
			track := catalog.Track{
				ID:          catalog.TrackID(item.ItemID*1000 + uint64(ext.TrackNumber)),
				Title:       ext.Title,
				TrackNumber: ext.TrackNumber,
				DiscNumber:  1,
				Duration:    0,
				Performer:   album.Artist,
				ISRC:        nil,
			}
			if err := placeTrack(ext.TempPath, catalog.TrackPath(targetDir, album, track, audioExt)); nil != err {
				return count, err
			}
			count++
		}

		return count, nil
	}

	// Single track: path from item metadata so re-downloads resolve to the
	// same location regardless of how the blob was named.
	track := catalog.Track{
		ID:          catalog.TrackID(item.ItemID),
		Title:       item.ItemTitle,
		TrackNumber: 1,
		DiscNumber:  1,
		Duration:    0,
		Performer:   album.Artist,
		ISRC:        nil,
	}

	if len(extracted) == 0 {
		return 0, nil
	}

	if err := placeTrack(extracted[0].TempPath, catalog.TrackPath(targetDir, album, track, audioExt)); nil != err {
		return 0, err
	}

	return 1, nil
}

func placeTrack(tempPath, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); nil != err {
		return fmt.Errorf("failed to create album directory: %v", err)
	}

	if err := os.Rename(tempPath, targetPath); nil != err {
		return fmt.Errorf("failed to move track into place: %v", err)
	}

	return nil
}
