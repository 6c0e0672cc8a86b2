// Package bandcamp implements the Bandcamp storefront client: collection
// listing, download page resolution, and archive-delivered purchase
// extraction.
package bandcamp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/xeptore/qoget/catalog"
	"github.com/xeptore/qoget/httputil"
	"github.com/xeptore/qoget/must"
	"github.com/xeptore/qoget/ratelimit"
)

const (
	baseURL        = "https://bandcamp.com"
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	itemsPerPage   = 100
	requestTimeout = 30 * time.Second

	blobRetries      = 3
	blobRetryBackoff = 1 * time.Second
)

// CollectionItem is one entry of the fan's collection, visible or hidden.
type CollectionItem struct {
	BandName     string `json:"band_name"`
	ItemTitle    string `json:"item_title"`
	ItemID       uint64 `json:"item_id"`
	SaleItemType string `json:"sale_item_type"`
	SaleItemID   uint64 `json:"sale_item_id"`
	Token        string `json:"token"`
}

type collectionResponse struct {
	Items          []CollectionItem  `json:"items"`
	MoreAvailable  bool              `json:"more_available"`
	LastToken      string            `json:"last_token"`
	RedownloadURLs map[string]string `json:"redownload_urls"`
}

// Purchases aggregates every collection item together with the redownload
// URL map, keyed by "<sale_item_type><sale_item_id>".
type Purchases struct {
	Items          []CollectionItem
	RedownloadURLs map[string]string
}

// DownloadFormat is one downloadable encoding offered for a purchase.
type DownloadFormat struct {
	URL    string `json:"url"`
	SizeMB string `json:"size_mb"`
}

// DownloadInfo is the digital item metadata extracted from a download page.
type DownloadInfo struct {
	ItemID    uint64                    `json:"item_id"`
	Title     string                    `json:"title"`
	Artist    string                    `json:"artist"`
	Downloads map[string]DownloadFormat `json:"downloads"`
}

// Client talks to Bandcamp authenticated by the fan's identity cookie. API
// calls go through the shared rate-limited transport; archive blob downloads
// bypass it since they hit CDN hosts, not the API.
type Client struct {
	http *httputil.Client
	blob *http.Client
}

func NewClient(identityCookie string) *Client {
	jar, err := cookiejar.New(nil)
	must.NilErr(err)

	base, err := url.Parse(baseURL)
	must.NilErr(err)
	jar.SetCookies(base, []*http.Cookie{{Name: "identity", Value: identityCookie}}) //nolint:exhaustruct

	return &Client{
		http: httputil.NewClient(
			ratelimit.New(ratelimit.DefaultRequestsPerSecond),
			httputil.Options{Timeout: requestTimeout, Jar: jar, UserAgent: userAgent},
		),
		blob: &http.Client{Jar: jar}, //nolint:exhaustruct
	}
}

// VerifyAuth checks the identity cookie and returns the fan id. A 401 or 403
// means the cookie is invalid or expired and the sync must not proceed.
func (c *Client) VerifyAuth(ctx context.Context, logger zerolog.Logger) (uint64, error) {
	respBytes, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    baseURL + "/api/fan/2/collection_summary",
	})
	if nil != err {
		if httputil.IsAuthStatus(err) {
			return 0, fmt.Errorf("identity cookie is invalid or expired: %w", err)
		}

		return 0, fmt.Errorf("failed to fetch collection summary: %w", err)
	}

	var respBody struct {
		FanID uint64 `json:"fan_id"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode collection summary response")
		return 0, fmt.Errorf("failed to decode collection summary response: %v", err)
	}

	return respBody.FanID, nil
}

// GetPurchases fetches every collection item, visible and hidden, merging the
// per-page redownload URL maps.
func (c *Client) GetPurchases(ctx context.Context, logger zerolog.Logger, fanID uint64) (*Purchases, error) {
	purchases := &Purchases{
		Items:          nil,
		RedownloadURLs: make(map[string]string),
	}

	for _, endpoint := range []string{"collection_items", "hidden_items"} {
		if err := c.fetchPaginatedItems(ctx, logger, fanID, endpoint, purchases); nil != err {
			return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
		}
	}

	return purchases, nil
}

func (c *Client) fetchPaginatedItems(
	ctx context.Context,
	logger zerolog.Logger,
	fanID uint64,
	endpoint string,
	out *Purchases,
) error {
	olderThanToken := fmt.Sprintf("%d:0:a::", time.Now().Unix())

	for {
		respBytes, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
			Method: http.MethodPost,
			URL:    baseURL + "/api/fancollection/1/" + endpoint,
			JSONBody: map[string]any{
				"fan_id":           strconv.FormatUint(fanID, 10),
				"older_than_token": olderThanToken,
				"count":            itemsPerPage,
			},
		})
		if nil != err {
			return err
		}

		var respBody collectionResponse
		if err := json.Unmarshal(respBytes, &respBody); nil != err {
			logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode collection response")
			return fmt.Errorf("failed to decode collection response: %v", err)
		}

		if len(respBody.Items) == 0 {
			return nil
		}

		olderThanToken = respBody.Items[len(respBody.Items)-1].Token

		for k, v := range respBody.RedownloadURLs {
			out.RedownloadURLs[k] = v
		}
		out.Items = append(out.Items, respBody.Items...)

		if !respBody.MoreAvailable {
			return nil
		}
	}
}

// GetDownloadInfo fetches a purchase's download page and extracts the first
// digital item's metadata from the embedded pagedata blob.
func (c *Client) GetDownloadInfo(ctx context.Context, logger zerolog.Logger, redownloadURL string) (*DownloadInfo, error) {
	html, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    redownloadURL,
	})
	if nil != err {
		return nil, fmt.Errorf("failed to fetch download page: %w", err)
	}

	return parseDownloadPage(html)
}

// DownloadAndExtract downloads the archive blob behind downloadURL and hands
// it to the extractor. Transient download failures retry on a Fibonacci
// schedule.
func (c *Client) DownloadAndExtract(
	ctx context.Context,
	logger zerolog.Logger,
	downloadURL, tempDir string,
) ([]ExtractedTrack, error) {
	var (
		blob        []byte
		contentType string
	)

	backoff := retry.WithMaxRetries(blobRetries, retry.NewFibonacci(blobRetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, ct, err := c.fetchBlob(ctx, downloadURL)
		if nil != err {
			logger.Warn().Err(err).Msg("Archive download attempt failed")
			return err
		}

		blob, contentType = b, ct

		return nil
	})
	if nil != err {
		return nil, fmt.Errorf("failed to download archive: %w", err)
	}

	return Extract(blob, contentType, downloadURL, tempDir)
}

func (c *Client) fetchBlob(ctx context.Context, downloadURL string) (b []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if nil != err {
		return nil, "", fmt.Errorf("failed to create download request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.blob.Do(req)
	if nil != err {
		return nil, "", retry.RetryableError(fmt.Errorf("failed to send download request: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close download response body: %v", closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		statusErr := &httputil.StatusError{Code: resp.StatusCode, Body: nil}
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return nil, "", retry.RetryableError(statusErr)
		default:
			return nil, "", statusErr
		}
	}

	body, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, "", retry.RetryableError(fmt.Errorf("failed to read download body: %v", err))
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// AacHiURL returns the aac-hi format download URL, or an error naming the
// formats that are available instead.
func AacHiURL(info *DownloadInfo) (string, error) {
	if f, ok := info.Downloads["aac-hi"]; ok {
		return f.URL, nil
	}

	available := make([]string, 0, len(info.Downloads))
	for name := range info.Downloads {
		available = append(available, name)
	}
	sort.Strings(available)

	return "", fmt.Errorf(
		"no aac-hi format available for %q by %s. Available formats: %s",
		info.Title, info.Artist, strings.Join(available, ", "),
	)
}

// ToPurchaseList normalizes collection items into the shared purchase model.
// Album purchases become albums with unknown track listings, filled in at
// download time from the archive contents. Track purchases become standalone
// tracks. Unknown sale item types are logged and skipped.
func ToPurchaseList(logger zerolog.Logger, purchases *Purchases) catalog.PurchaseList {
	var out catalog.PurchaseList

	for _, item := range purchases.Items {
		artist := catalog.Artist{ID: item.SaleItemID, Name: item.BandName}

		switch item.SaleItemType {
		case "a":
			out.Albums = append(out.Albums, catalog.Album{
				ID:          catalog.AlbumID("bc-" + strconv.FormatUint(item.ItemID, 10)),
				Title:       item.ItemTitle,
				Version:     nil,
				Artist:      artist,
				MediaCount:  1,
				TracksCount: 0,
				Tracks:      nil,
			})
		case "t":
			out.Tracks = append(out.Tracks, catalog.Track{
				ID:          catalog.TrackID(item.ItemID),
				Title:       item.ItemTitle,
				TrackNumber: 1,
				DiscNumber:  1,
				Duration:    0,
				Performer:   artist,
				ISRC:        nil,
			})
		default:
			logger.Warn().
				Str("sale_item_type", item.SaleItemType).
				Str("item_title", item.ItemTitle).
				Msg("Unknown sale item type, skipping")
		}
	}

	return out
}
