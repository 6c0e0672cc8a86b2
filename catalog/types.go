// Package catalog holds the shared purchase data model and the pure planning
// core: path building, existing-file scanning, and sync plan construction.
// Both storefront clients normalize their purchase shapes into these types
// before any planning happens.
package catalog

import "strconv"

type TrackID uint64

func (id TrackID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type AlbumID string

func (id AlbumID) String() string {
	return string(id)
}

type Artist struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID          AlbumID              `json:"id"`
	Title       string               `json:"title"`
	Version     *string              `json:"version"`
	Artist      Artist               `json:"artist"`
	MediaCount  int                  `json:"media_count"`
	TracksCount int                  `json:"tracks_count"`
	Tracks      *PaginatedList[Track] `json:"tracks"`
}

type Track struct {
	ID          TrackID `json:"id"`
	Title       string  `json:"title"`
	TrackNumber int     `json:"track_number"`
	DiscNumber  int     `json:"media_number"`
	Duration    int     `json:"duration"`
	Performer   Artist  `json:"performer"`
	ISRC        *string `json:"isrc"`
}

type PaginatedList[T any] struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
	Items  []T `json:"items"`
}

// PurchaseList is every purchase aggregated across paginated responses:
// albums with (possibly backfilled) track listings, plus standalone tracks.
type PurchaseList struct {
	Albums []Album
	Tracks []Track
}

// DownloadTask is one track to materialize on disk. Built once by the plan
// builder and never mutated afterwards.
type DownloadTask struct {
	Track      Track
	Album      Album
	TargetPath string
	Ext        string
}

type SkipReason int

const (
	SkipAlreadyExists SkipReason = iota
	SkipDryRun
)

func (r SkipReason) String() string {
	switch r {
	case SkipAlreadyExists:
		return "already exists"
	case SkipDryRun:
		return "dry run"
	default:
		return "unknown"
	}
}

type SkippedTrack struct {
	Track      Track
	TargetPath string
	Reason     SkipReason
}

// SyncPlan is the deduplicated, classified set of per-track actions for one
// run. Read-only once built.
type SyncPlan struct {
	Downloads   []DownloadTask
	Skipped     []SkippedTrack
	TotalTracks int
}

// DownloadOutcome tags which format a successful download actually used.
type DownloadOutcome int

const (
	OutcomeMP3 DownloadOutcome = iota
	OutcomeFLACFallback
)

// Ext returns the on-disk extension for the outcome.
func (o DownloadOutcome) Ext() string {
	switch o {
	case OutcomeMP3:
		return ".mp3"
	case OutcomeFLACFallback:
		return ".flac"
	default:
		panic("unexpected download outcome: " + strconv.Itoa(int(o)))
	}
}

type SucceededDownload struct {
	Task    DownloadTask
	Outcome DownloadOutcome
}

type DownloadFailure struct {
	Task  DownloadTask
	Error string
}

type SyncResult struct {
	Succeeded     []SucceededDownload
	Failed        []DownloadFailure
	Skipped       []SkippedTrack
	FallbackCount int
}
