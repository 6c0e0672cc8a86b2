package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xeptore/qoget/must"
)

// DefaultRequestsPerSecond is the request cadence applied to every storefront
// client unless configured otherwise.
const DefaultRequestsPerSecond = 3.0

// Limiter enforces a minimum spacing between outbound requests of one client.
// Reserving the next send slot happens atomically inside Wait; callers never
// observe the underlying schedule.
type Limiter struct {
	l *rate.Limiter
}

func New(requestsPerSecond float64) *Limiter {
	must.Be(requestsPerSecond > 0, "requests per second must be positive")

	return &Limiter{l: rate.NewLimiter(rate.Limit(requestsPerSecond), 1)}
}

// Wait blocks until the caller may issue the next request. Concurrent callers
// are released at least the minimum interval apart, in no particular order.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.l.Wait(ctx); nil != err {
		return fmt.Errorf("failed to wait for rate limiter slot: %w", err)
	}

	return nil
}
