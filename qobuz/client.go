// Package qobuz implements the Qobuz storefront client: purchase listing,
// album backfill, and signed file URL retrieval, all through the shared
// rate-limited retrying transport.
package qobuz

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/xeptore/qoget/cache"
	"github.com/xeptore/qoget/catalog"
	"github.com/xeptore/qoget/httputil"
	"github.com/xeptore/qoget/ratelimit"
)

const (
	baseURL           = "https://www.qobuz.com/api.json/0.2"
	purchasesPageSize = 500
	requestTimeout    = 30 * time.Second

	// FormatIDMP3320 is the preferred purchase download format; FormatIDFLAC
	// is the fallback when MP3 320 is unavailable.
	FormatIDMP3320 = 5
	FormatIDFLAC   = 6
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials are the web player application credentials every API request is
// attributed to.
type Credentials struct {
	AppID     string
	AppSecret string
}

type UserAuth struct {
	Token  string
	UserID uint64
}

type Client struct {
	http      *httputil.Client
	cache     *cache.Cache
	creds     Credentials
	authToken string
}

func NewClient(creds Credentials, authToken string) *Client {
	return &Client{
		http: httputil.NewClient(
			ratelimit.New(ratelimit.DefaultRequestsPerSecond),
			httputil.Options{Timeout: requestTimeout}, //nolint:exhaustruct
		),
		cache:     cache.New(),
		creds:     creds,
		authToken: authToken,
	}
}

func (c *Client) authedHeader() http.Header {
	h := make(http.Header, 2)
	h.Set("X-App-Id", c.creds.AppID)
	h.Set("X-User-Auth-Token", c.authToken)

	return h
}

// GetPurchases fetches every purchase, paginating through albums and
// standalone tracks.
func (c *Client) GetPurchases(ctx context.Context, logger zerolog.Logger) (*catalog.PurchaseList, error) {
	var purchases catalog.PurchaseList

	for offset := 0; ; offset += purchasesPageSize {
		query := make(url.Values, 2)
		query.Set("limit", strconv.Itoa(purchasesPageSize))
		query.Set("offset", strconv.Itoa(offset))

		respBytes, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
			Method: http.MethodGet,
			URL:    baseURL + "/purchase/getUserPurchases",
			Query:  query,
			Header: c.authedHeader(),
		})
		if nil != err {
			return nil, fmt.Errorf("failed to fetch purchases: %w", err)
		}

		var respBody struct {
			Albums catalog.PaginatedList[catalog.Album] `json:"albums"`
			Tracks catalog.PaginatedList[catalog.Track] `json:"tracks"`
		}
		if err := json.Unmarshal(respBytes, &respBody); nil != err {
			logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode purchases response")
			return nil, fmt.Errorf("failed to decode purchases response: %v", err)
		}

		purchases.Albums = append(purchases.Albums, respBody.Albums.Items...)
		purchases.Tracks = append(purchases.Tracks, respBody.Tracks.Items...)

		if offset+purchasesPageSize >= respBody.Albums.Total {
			break
		}
	}

	return &purchases, nil
}

// GetAlbum fetches the full album metadata including its track listing.
// Results are memoized for the run.
func (c *Client) GetAlbum(ctx context.Context, logger zerolog.Logger, id catalog.AlbumID) (*catalog.Album, error) {
	item, err := c.cache.Albums.Fetch(
		string(id),
		cache.DefaultAlbumTTL,
		func() (*catalog.Album, error) { return c.fetchAlbum(ctx, logger, id) },
	)
	if nil != err {
		return nil, err
	}

	return item.Value(), nil
}

func (c *Client) fetchAlbum(ctx context.Context, logger zerolog.Logger, id catalog.AlbumID) (*catalog.Album, error) {
	query := make(url.Values, 1)
	query.Set("album_id", string(id))

	respBytes, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    baseURL + "/album/get",
		Query:  query,
		Header: c.authedHeader(),
	})
	if nil != err {
		return nil, fmt.Errorf("failed to fetch album: %w", err)
	}

	var album catalog.Album
	if err := json.Unmarshal(respBytes, &album); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode album response")
		return nil, fmt.Errorf("failed to decode album response: %v", err)
	}

	return &album, nil
}

// GetFileURL returns a signed, time-limited download URL for a track in the
// requested format.
//
// The request carries intent=stream in both the query and the signature;
// Qobuz validates the intent parameter against the signature, and
// intent=stream with format_id=5 still returns MP3 320 URLs for purchased
// content.
func (c *Client) GetFileURL(
	ctx context.Context,
	logger zerolog.Logger,
	trackID catalog.TrackID,
	formatID int,
) (string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := RequestSig(uint64(trackID), formatID, timestamp, c.creds.AppSecret)

	query := make(url.Values, 5)
	query.Set("track_id", trackID.String())
	query.Set("format_id", strconv.Itoa(formatID))
	query.Set("intent", "stream")
	query.Set("request_ts", timestamp)
	query.Set("request_sig", sig)

	respBytes, err := c.http.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    baseURL + "/track/getFileUrl",
		Query:  query,
		Header: c.authedHeader(),
	})
	if nil != err {
		return "", fmt.Errorf("failed to get file URL: %w", err)
	}

	var respBody struct {
		TrackID  uint64 `json:"track_id"`
		URL      string `json:"url"`
		FormatID int    `json:"format_id"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode file URL response")
		return "", fmt.Errorf("failed to decode file URL response: %v", err)
	}

	return respBody.URL, nil
}

// Login authenticates with an MD5-hashed password and returns the user auth
// token.
func Login(
	ctx context.Context,
	logger zerolog.Logger,
	appID, username, password string,
) (*UserAuth, error) {
	passwordHash := md5.Sum([]byte(password)) //nolint:gosec

	header := make(http.Header, 1)
	header.Set("X-App-Id", appID)

	query := make(url.Values, 3)
	query.Set("email", username)
	query.Set("password", hex.EncodeToString(passwordHash[:]))
	query.Set("app_id", appID)

	client := httputil.NewClient(
		ratelimit.New(ratelimit.DefaultRequestsPerSecond),
		httputil.Options{Timeout: requestTimeout}, //nolint:exhaustruct
	)
	respBytes, err := client.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    baseURL + "/user/login",
		Query:  query,
		Header: header,
	})
	if nil != err {
		if httputil.IsAuthStatus(err) {
			return nil, ErrInvalidCredentials
		}

		return nil, fmt.Errorf("failed to send login request: %w", err)
	}

	var respBody struct {
		UserAuthToken string `json:"user_auth_token"`
		User          struct {
			ID uint64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Msg("Failed to decode login response")
		return nil, fmt.Errorf("failed to decode login response: %v", err)
	}

	return &UserAuth{Token: respBody.UserAuthToken, UserID: respBody.User.ID}, nil
}

// RequestSig computes the MD5 request signature for /track/getFileUrl. The
// signed string always uses "intentstream" regardless of the actual intent
// parameter.
func RequestSig(trackID uint64, formatID int, timestamp, appSecret string) string {
	data := fmt.Sprintf(
		"trackgetFileUrlformat_id%dintentstreamtrack_id%d%s%s",
		formatID, trackID, timestamp, appSecret,
	)
	sum := md5.Sum([]byte(data)) //nolint:gosec

	return hex.EncodeToString(sum[:])
}
