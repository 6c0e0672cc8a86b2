package qobuz

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/xeptore/qoget/httputil"
	"github.com/xeptore/qoget/ratelimit"
)

const (
	loginPageURL = "https://play.qobuz.com/login"
	playBaseURL  = "https://play.qobuz.com"

	// Known-good track and format used to probe candidate secrets. Any signed
	// request answered with 200 or 401 proves the signature was accepted.
	validationTrackID  = 19512574
	validationFormatID = 27
)

var (
	bundlePathRe = regexp.MustCompile(`<script src="(/resources/[^"]+/bundle\.js)">`)
	appIDRe      = regexp.MustCompile(`production:\{api:\{appId:"(\d{9})"`)
	seedRe       = regexp.MustCompile(`[a-z]\.initialSeed\("([\w=]+)",window\.utimezone\.([a-z]+)\)`)
)

// ExtractCredentials recovers the web player's app id and signing secret from
// its bundle.js. The secret is obfuscated as base64 fragments scattered
// across seed/info/extras strings keyed by timezone names; candidates are
// validated against the API before being returned.
func ExtractCredentials(ctx context.Context, logger zerolog.Logger) (*Credentials, error) {
	client := httputil.NewClient(
		ratelimit.New(ratelimit.DefaultRequestsPerSecond),
		httputil.Options{Timeout: requestTimeout}, //nolint:exhaustruct
	)

	loginHTML, err := client.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    loginPageURL,
	})
	if nil != err {
		return nil, fmt.Errorf("failed to fetch login page: %w", err)
	}

	bundleMatch := bundlePathRe.FindSubmatch(loginHTML)
	if nil == bundleMatch {
		return nil, errors.New("could not find bundle.js URL in login page")
	}

	bundle, err := client.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    playBaseURL + string(bundleMatch[1]),
	})
	if nil != err {
		return nil, fmt.Errorf("failed to fetch bundle.js: %w", err)
	}

	appIDMatch := appIDRe.FindSubmatch(bundle)
	if nil == appIDMatch {
		return nil, errors.New("could not extract app id from bundle.js")
	}
	appID := string(appIDMatch[1])

	candidates := candidateSecrets(bundle)
	if len(candidates) == 0 {
		return nil, errors.New("no candidate secrets could be extracted from bundle.js")
	}

	for _, secret := range candidates {
		ok, err := validateSecret(ctx, logger, client, appID, secret)
		if nil != err {
			logger.Debug().Err(err).Msg("Secret validation request failed, trying next candidate")
			continue
		}
		if ok {
			return &Credentials{AppID: appID, AppSecret: secret}, nil
		}
	}

	return nil, fmt.Errorf("no valid app secret found among %d candidates", len(candidates))
}

func candidateSecrets(bundle []byte) []string {
	type seedPair struct {
		seed     string
		timezone string
	}

	var pairs []seedPair
	for _, m := range seedRe.FindAllSubmatch(bundle, -1) {
		pairs = append(pairs, seedPair{seed: string(m[1]), timezone: string(m[2])})
	}

	if len(pairs) < 2 {
		return nil
	}

	// The bundle's ternary condition always evaluates to false, swapping the
	// first two pairs.
	pairs[0], pairs[1] = pairs[1], pairs[0]

	var secrets []string
	for _, pair := range pairs {
		infoRe, err := regexp.Compile(
			`name:"\w+/` + regexp.QuoteMeta(capitalizeFirst(pair.timezone)) + `",info:"([\w=]+)",extras:"([\w=]+)"`,
		)
		if nil != err {
			continue
		}

		caps := infoRe.FindSubmatch(bundle)
		if nil == caps {
			continue
		}

		// seed + info + extras minus the trailing 44 chars base64-decodes to
		// the secret.
		combined := pair.seed + string(caps[1]) + string(caps[2])
		if len(combined) <= 44 {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(combined[:len(combined)-44])
		if nil != err {
			continue
		}

		secrets = append(secrets, string(decoded))
	}

	return secrets
}

// validateSecret probes a candidate by signing a test file URL request: 200
// and 401 both mean the signature was accepted, 400 means it was not.
func validateSecret(
	ctx context.Context,
	logger zerolog.Logger,
	client *httputil.Client,
	appID, secret string,
) (bool, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := RequestSig(validationTrackID, validationFormatID, timestamp, secret)

	header := make(http.Header, 1)
	header.Set("X-App-Id", appID)

	query := make(url.Values, 5)
	query.Set("track_id", strconv.Itoa(validationTrackID))
	query.Set("format_id", strconv.Itoa(validationFormatID))
	query.Set("intent", "stream")
	query.Set("request_ts", timestamp)
	query.Set("request_sig", sig)

	_, err := client.Do(ctx, logger, httputil.Request{ //nolint:exhaustruct
		Method: http.MethodGet,
		URL:    baseURL + "/track/getFileUrl",
		Query:  query,
		Header: header,
	})
	if nil == err {
		return true, nil
	}

	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized:
			return true, nil
		case http.StatusBadRequest:
			return false, nil
		default:
			return false, fmt.Errorf("unexpected status %d during secret validation", statusErr.Code)
		}
	}

	return false, err
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	return string(unicode.ToUpper(runes[0])) + string(runes[1:])
}
