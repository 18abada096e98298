package services

import (
	"context"
	"time"
)

// RateLimiter is a token bucket bounding outbound request rate to the
// embedding provider. The bucket starts full; a background loop adds
// refillRatePerInterval tokens every interval, capped at the bucket size.
// Waiters are served in no particular order — fairness is not guaranteed.
type RateLimiter struct {
	tokens   chan struct{}
	refill   int
	interval time.Duration
	stop     chan struct{}
}

// NewRateLimiter creates and starts a token bucket. One instance should exist
// per deployment and be shared by every embedding call.
func NewRateLimiter(refillRatePerInterval int, interval time.Duration, maxBucketSize int) *RateLimiter {
	if refillRatePerInterval <= 0 {
		refillRatePerInterval = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if maxBucketSize <= 0 {
		maxBucketSize = refillRatePerInterval
	}

	rl := &RateLimiter{
		tokens:   make(chan struct{}, maxBucketSize),
		refill:   refillRatePerInterval,
		interval: interval,
		stop:     make(chan struct{}),
	}
	for i := 0; i < maxBucketSize; i++ {
		rl.tokens <- struct{}{}
	}
	go rl.refillLoop()
	return rl
}

func (rl *RateLimiter) refillLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			for i := 0; i < rl.refill; i++ {
				select {
				case rl.tokens <- struct{}{}:
				default:
					// Bucket full, drop the token.
				}
			}
		}
	}
}

// Acquire blocks until a token is available or ctx is done. Token exhaustion
// only delays the caller; the sole error condition is ctx cancellation.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	default:
	}
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the refill loop. Pending Acquire calls still drain any tokens
// remaining in the bucket.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}
