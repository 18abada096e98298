package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	const (
		refill   = 2
		interval = 200 * time.Millisecond
		burst    = 3
	)
	rl := NewRateLimiter(refill, interval, burst)
	defer rl.Stop()

	ctx := context.Background()

	// The bucket starts full: the whole burst is served immediately.
	start := time.Now()
	for i := 0; i < burst; i++ {
		require.NoError(t, rl.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), interval/2, "burst should not block")

	// The next acquire must wait for roughly one refill interval.
	start = time.Now()
	require.NoError(t, rl.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, interval/2, "acquire after burst should wait for a refill tick")
	assert.Less(t, elapsed, 3*interval, "acquire should resume on the first refill tick")
}

func TestRateLimiter_BucketCappedAtBurst(t *testing.T) {
	rl := NewRateLimiter(100, 20*time.Millisecond, 2)
	defer rl.Stop()

	// Let several refill ticks pass; the bucket must not exceed its cap.
	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, rl.Acquire(ctx))
	require.NoError(t, rl.Acquire(ctx))
	assert.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestRateLimiter_AcquireRespectsContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 1)
	defer rl.Stop()

	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_ConcurrentCallers(t *testing.T) {
	const callers = 20
	rl := NewRateLimiter(10, 20*time.Millisecond, 5)
	defer rl.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- rl.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
