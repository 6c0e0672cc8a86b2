package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/xeptore/qoget/ratelimit"
)

const (
	// MaxRetries transient failures per logical request, i.e., up to
	// MaxRetries+1 attempts.
	MaxRetries        = 3
	initialBackoff    = 1 * time.Second
	rateLimitCooldown = 10 * time.Second
)

// StatusError is a non-2xx response, carrying the response body for context.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, string(e.Body))
}

// IsAuthStatus reports whether err is a 401 or 403 response. Auth failures
// abort the owning service's sync instead of being retried.
func IsAuthStatus(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}

	return statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden
}

// Request describes one logical outbound request. It is rebuilt for every
// retry attempt, so it must stay immutable once handed to Do.
type Request struct {
	Method   string
	URL      string
	Query    url.Values
	Header   http.Header
	JSONBody any
}

func (r Request) build(ctx context.Context, userAgent string) (*http.Request, error) {
	reqURL, err := url.Parse(r.URL)
	if nil != err {
		return nil, fmt.Errorf("failed to parse request URL: %v", err)
	}

	if len(r.Query) > 0 {
		reqURL.RawQuery = r.Query.Encode()
	}

	var body io.Reader
	if nil != r.JSONBody {
		b, err := json.Marshal(r.JSONBody)
		if nil != err {
			return nil, fmt.Errorf("failed to encode request body: %v", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL.String(), body)
	if nil != err {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if nil != r.JSONBody {
		req.Header.Set("Content-Type", "application/json")
	}

	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	return req, nil
}

type Options struct {
	Timeout   time.Duration
	Jar       http.CookieJar
	UserAgent string
}

// Client issues rate-limited requests with retry on transient failures.
// 500/502/503/504 back off exponentially starting at 1s, doubling each
// attempt; 429 waits a fixed cooldown instead, but still consumes an attempt;
// any other non-2xx status fails immediately with the response body attached.
type Client struct {
	http      *http.Client
	limiter   *ratelimit.Limiter
	userAgent string
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewClient(limiter *ratelimit.Limiter, opts Options) *Client {
	return &Client{
		http: &http.Client{ //nolint:exhaustruct
			Timeout: opts.Timeout,
			Jar:     opts.Jar,
		},
		limiter:   limiter,
		userAgent: opts.UserAgent,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do sends the request, returning the response body on any 2xx status.
// Every attempt, including retries, passes through the shared rate limiter.
func (c *Client) Do(ctx context.Context, logger zerolog.Logger, req Request) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 1 * time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); nil != err {
			return nil, err
		}

		httpReq, err := req.build(ctx, c.userAgent)
		if nil != err {
			return nil, err
		}

		respBody, retryAfter, err := c.send(httpReq)
		if nil == err {
			return respBody, nil
		}
		lastErr = err

		if retryAfter < 0 || attempt == MaxRetries {
			break
		}

		// Zero means the failure follows the exponential schedule. 429 carries
		// its own fixed cooldown instead, without advancing the schedule.
		if retryAfter == 0 {
			retryAfter = bo.NextBackOff()
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("wait", retryAfter).
			Msg("Transient response, retrying")

		if err := c.sleep(ctx, retryAfter); nil != err {
			return nil, err
		}
	}

	return nil, lastErr
}

// send issues a single attempt. A negative retryAfter means the failure must
// not be retried; zero defers to the caller's exponential schedule.
func (c *Client) send(req *http.Request) (b []byte, retryAfter time.Duration, err error) {
	resp, err := c.http.Do(req)
	if nil != err {
		return nil, -1, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		// A close error after the body was fully read does not invalidate the
		// response; it only augments an already-failed attempt.
		if closeErr := resp.Body.Close(); nil != closeErr && nil != err {
			err = errors.Join(err, fmt.Errorf("failed to close response body: %v", closeErr))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, -1, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, 0, nil
	}

	statusErr := &StatusError{Code: resp.StatusCode, Body: respBody}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, rateLimitCooldown, statusErr
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return nil, 0, statusErr
	default:
		return nil, -1, statusErr
	}
}
