package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a Store backed by golang.org/x/time/rate. Where the sliding
// window enforces a hard count per trailing interval, the bucket refills
// continuously: a key that sends its full quota at once must wait for tokens
// to trickle back rather than for a window edge.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry

	refill rate.Limit
	burst  int
	ttl    time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket creates a bucket store with capacity limit and a refill
// rate of limit tokens per window, approximating "limit requests per
// window". The eviction goroutine exits when ctx is cancelled.
func NewTokenBucket(ctx context.Context, limit int, window time.Duration, ttl time.Duration) *TokenBucket {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	b := &TokenBucket{
		buckets: make(map[string]*bucketEntry),
		refill:  rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		ttl:     ttl,
	}
	go b.sweep(ctx)
	return b
}

func (b *TokenBucket) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.buckets[key]
	if !ok {
		e = &bucketEntry{lim: rate.NewLimiter(b.refill, b.burst)}
		b.buckets[key] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		// only possible if burst were zero
		return Decision{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: int(e.lim.TokensAt(now)),
	}, nil
}

func (b *TokenBucket) sweep(ctx context.Context) {
	ticker := time.NewTicker(b.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for key, e := range b.buckets {
				if now.Sub(e.lastSeen) > b.ttl {
					delete(b.buckets, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
