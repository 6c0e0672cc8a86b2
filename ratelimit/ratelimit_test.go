package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/qoget/ratelimit"
)

func TestWaitSpacesConsecutiveCalls(t *testing.T) {
	t.Parallel()

	const rps = 50.0
	minInterval := time.Second / 50

	l := ratelimit.New(rps)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, minInterval-time.Millisecond, "calls %d and %d released too close", i-1, i)
	}
}

func TestWaitSpacesConcurrentCalls(t *testing.T) {
	t.Parallel()

	const rps = 50.0
	minInterval := time.Second / 50

	l := ratelimit.New(rps)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); nil != err {
				t.Error(err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 4)

	for i := range stamps {
		for j := i + 1; j < len(stamps); j++ {
			gap := stamps[j].Sub(stamps[i])
			if gap < 0 {
				gap = -gap
			}
			assert.GreaterOrEqual(t, gap, minInterval-time.Millisecond, "releases %d and %d too close", i, j)
		}
	}
}

func TestNewPanicsOnNonPositiveRate(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { ratelimit.New(0) })
	assert.Panics(t, func() { ratelimit.New(-1) })
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(0.1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx))
	assert.Error(t, l.Wait(ctx))
}
