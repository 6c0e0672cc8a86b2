// Package downloader executes a sync plan: it resolves signed file URLs,
// streams track content to disk with bounded concurrency, and aggregates
// per-track outcomes into a run result.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/qoget/catalog"
	"github.com/xeptore/qoget/httputil"
	"github.com/xeptore/qoget/qobuz"
)

// DefaultConcurrency is the number of tracks downloaded in parallel. URL
// resolution still goes through the client's shared rate limiter, so raising
// this does not raise the API request rate.
const DefaultConcurrency = 4

// FileURLClient resolves a track id and format to a signed download URL.
type FileURLClient interface {
	GetFileURL(ctx context.Context, logger zerolog.Logger, trackID catalog.TrackID, formatID int) (string, error)
}

// ProgressFunc is called once per planned download as it completes, with a
// nil error on success. Calls arrive from worker goroutines in completion
// order.
type ProgressFunc func(task catalog.DownloadTask, err error)

type taskResult struct {
	succeeded *catalog.SucceededDownload
	failed    *catalog.DownloadFailure
}

// Execute downloads every task in the plan with DefaultConcurrency workers.
// Individual track failures are collected into the result; an authentication
// failure cancels the remaining work and is returned as the run error.
func Execute(
	ctx context.Context,
	logger zerolog.Logger,
	client FileURLClient,
	httpc *http.Client,
	plan catalog.SyncPlan,
	progress ProgressFunc,
) (catalog.SyncResult, error) {
	results := make([]taskResult, len(plan.Downloads))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(DefaultConcurrency)
	for i, task := range plan.Downloads {
		i, task := i, task
		eg.Go(func() error {
			taskLogger := logger.With().
				Stringer("track_id", task.Track.ID).
				Str("target", task.TargetPath).
				Logger()

			outcome, err := downloadTrack(egCtx, taskLogger, client, httpc, task)
			if nil != err {
				if httputil.IsAuthStatus(err) {
					return fmt.Errorf("authentication failed during download: %w", err)
				}

				taskLogger.Error().Err(err).Msg("Track download failed")
				results[i] = taskResult{failed: &catalog.DownloadFailure{Task: task, Error: err.Error()}} //nolint:exhaustruct
				if nil != progress {
					progress(task, err)
				}

				return nil
			}

			results[i] = taskResult{succeeded: &catalog.SucceededDownload{Task: task, Outcome: outcome}} //nolint:exhaustruct
			if nil != progress {
				progress(task, nil)
			}

			return nil
		})
	}

	runErr := eg.Wait()

	out := catalog.SyncResult{Skipped: plan.Skipped} //nolint:exhaustruct
	for _, res := range results {
		switch {
		case nil != res.succeeded:
			out.Succeeded = append(out.Succeeded, *res.succeeded)
			if res.succeeded.Outcome == catalog.OutcomeFLACFallback {
				out.FallbackCount++
			}
		case nil != res.failed:
			out.Failed = append(out.Failed, *res.failed)
		}
	}

	if nil != runErr {
		return out, runErr
	}

	return out, nil
}

// downloadTrack fetches the track in MP3 320, falling back to FLAC only when
// no MP3 URL can be resolved for the track. Once a URL resolves, any failure
// streaming it fails the task so a transient CDN error never materializes the
// fallback format. Auth errors propagate unwrapped so the caller can abort
// the run.
func downloadTrack(
	ctx context.Context,
	logger zerolog.Logger,
	client FileURLClient,
	httpc *http.Client,
	task catalog.DownloadTask,
) (catalog.DownloadOutcome, error) {
	mp3URL, mp3Err := resolveFileURL(ctx, logger, client, task.Track.ID, qobuz.FormatIDMP3320)
	if nil == mp3Err {
		if err := fetchFormat(ctx, httpc, task, mp3URL, catalog.OutcomeMP3.Ext()); nil != err {
			cleanupTemp(task)
			return 0, err
		}

		return catalog.OutcomeMP3, nil
	}
	if httputil.IsAuthStatus(mp3Err) {
		return 0, mp3Err
	}

	logger.Warn().Err(mp3Err).Msg("MP3 320 unavailable, falling back to FLAC")

	flacURL, flacErr := resolveFileURL(ctx, logger, client, task.Track.ID, qobuz.FormatIDFLAC)
	if nil != flacErr {
		if httputil.IsAuthStatus(flacErr) {
			return 0, flacErr
		}

		return 0, fmt.Errorf("both formats failed: mp3: %v, flac: %v", mp3Err, flacErr)
	}

	if err := fetchFormat(ctx, httpc, task, flacURL, catalog.OutcomeFLACFallback.Ext()); nil != err {
		cleanupTemp(task)
		return 0, err
	}

	return catalog.OutcomeFLACFallback, nil
}

func resolveFileURL(
	ctx context.Context,
	logger zerolog.Logger,
	client FileURLClient,
	trackID catalog.TrackID,
	formatID int,
) (string, error) {
	fileURL, err := client.GetFileURL(ctx, logger, trackID, formatID)
	if nil != err {
		return "", fmt.Errorf("failed to resolve file URL: %w", err)
	}
	if fileURL == "" {
		return "", errors.New("no download URL returned")
	}

	return fileURL, nil
}

func fetchFormat(
	ctx context.Context,
	httpc *http.Client,
	task catalog.DownloadTask,
	fileURL string,
	ext string,
) error {
	finalPath := targetStem(task) + ext
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); nil != err {
		return fmt.Errorf("failed to create target directory: %v", err)
	}

	tmpPath := finalPath + ".tmp"
	if err := streamToFile(ctx, httpc, fileURL, tmpPath); nil != err {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, finalPath); nil != err {
		return fmt.Errorf("failed to move temporary file into place: %v", err)
	}

	return nil
}

// streamToFile writes the response body to tmpPath and syncs it before
// returning. The caller is responsible for the rename and for cleanup on
// failure.
func streamToFile(ctx context.Context, httpc *http.Client, fileURL, tmpPath string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if nil != err {
		return fmt.Errorf("failed to create download request: %v", err)
	}

	resp, err := httpc.Do(req)
	if nil != err {
		return fmt.Errorf("failed to send download request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close download response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return &httputil.StatusError{Code: resp.StatusCode, Body: nil}
	}

	f, err := os.Create(tmpPath)
	if nil != err {
		return fmt.Errorf("failed to create temporary file: %v", err)
	}

	if _, err := io.Copy(f, resp.Body); nil != err {
		err = errors.Join(err, f.Close())
		return fmt.Errorf("failed to write track content: %v", err)
	}

	if err := f.Sync(); nil != err {
		err = errors.Join(err, f.Close())
		return fmt.Errorf("failed to sync temporary file: %v", err)
	}

	if err := f.Close(); nil != err {
		return fmt.Errorf("failed to close temporary file: %v", err)
	}

	return nil
}

func targetStem(task catalog.DownloadTask) string {
	return strings.TrimSuffix(task.TargetPath, filepath.Ext(task.TargetPath))
}

// cleanupTemp removes any leftover temporary files for the task, for both
// formats since a fallback may have been attempted.
func cleanupTemp(task catalog.DownloadTask) {
	stem := targetStem(task)
	_ = os.Remove(stem + ".mp3.tmp")
	_ = os.Remove(stem + ".flac.tmp")
}
