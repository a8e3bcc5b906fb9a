package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the per-key state: admitted timestamps inside the trailing
// window, oldest first, plus the last time the key was touched at all.
type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// SlidingWindow is an in-memory Store that admits at most limit requests per
// key inside any trailing window. State is owned by the instance; there is no
// package-level map, so tests and callers control the lifecycle.
type SlidingWindow struct {
	mu      sync.Mutex
	windows map[string]*window

	limit  int
	window time.Duration

	// ttl bounds how long an idle key stays in the map before the sweep
	// evicts it.
	ttl time.Duration

	// maxKeys caps the key map. 0 disables the cap. Existing keys are still
	// served at capacity; only brand new keys are rejected.
	maxKeys    int
	atCapacity bool

	// OnCapacity fires once when a new key is first rejected because the map
	// is full, and re-arms after a sweep frees room.
	OnCapacity func()

	// OnSweep reports (tracked, evicted) after each background sweep.
	OnSweep func(tracked, evicted int)
}

type WindowOption func(*SlidingWindow)

// WithLimit sets the admission limit: at most n requests per key inside any
// trailing window of length w.
func WithLimit(n int, w time.Duration) WindowOption {
	return func(s *SlidingWindow) {
		s.limit = n
		s.window = w
	}
}

// WithTTL controls how long an idle key stays tracked before eviction.
func WithTTL(d time.Duration) WindowOption {
	return func(s *SlidingWindow) { s.ttl = d }
}

// WithMaxKeys caps the number of tracked keys. 0 means unlimited.
func WithMaxKeys(n int) WindowOption {
	return func(s *SlidingWindow) { s.maxKeys = n }
}

// WithOnCapacity sets the callback fired when the key cap first rejects a
// new key.
func WithOnCapacity(fn func()) WindowOption {
	return func(s *SlidingWindow) { s.OnCapacity = fn }
}

// WithOnSweep sets the callback fired after each eviction sweep.
func WithOnSweep(fn func(tracked, evicted int)) WindowOption {
	return func(s *SlidingWindow) { s.OnSweep = fn }
}

// NewSlidingWindow creates the store and starts the eviction sweep. The
// goroutine exits when ctx is cancelled.
func NewSlidingWindow(ctx context.Context, opts ...WindowOption) *SlidingWindow {
	s := &SlidingWindow{
		windows: make(map[string]*window),
		limit:   DefaultLimit,
		window:  DefaultWindow,
		ttl:     5 * time.Minute,
		maxKeys: 100000,
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweep(ctx)
	return s
}

// Admit purges this key's expired timestamps, then records now and admits if
// fewer than limit remain, or denies with the time until the oldest counted
// request leaves the window. A now earlier than the newest recorded
// timestamp (clock skew) is clamped to that timestamp so the counted window
// never shrinks.
func (s *SlidingWindow) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		if s.maxKeys > 0 && len(s.windows) >= s.maxKeys {
			if !s.atCapacity {
				s.atCapacity = true
				if s.OnCapacity != nil {
					// fire outside the critical path would be nicer, but the
					// callback is a counter increment in practice
					s.OnCapacity()
				}
			}
			return Decision{Allowed: false}, nil
		}
		w = &window{stamps: make([]time.Time, 0, s.limit)}
		s.windows[key] = w
	}

	if n := len(w.stamps); n > 0 && now.Before(w.stamps[n-1]) {
		now = w.stamps[n-1]
	}
	w.lastSeen = now

	// lazy purge: drop timestamps that have left the trailing window
	cutoff := now.Add(-s.window)
	keep := 0
	for keep < len(w.stamps) && !w.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}

	if len(w.stamps) >= s.limit {
		oldest := w.stamps[0]
		return Decision{
			Allowed:    false,
			RetryAfter: oldest.Add(s.window).Sub(now),
		}, nil
	}

	w.stamps = append(w.stamps, now)
	return Decision{
		Allowed:   true,
		Remaining: s.limit - len(w.stamps),
	}, nil
}

// Keys reports the number of tracked client keys.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// sweep evicts keys idle longer than the TTL. Runs every ttl/2 so stale
// entries don't linger much past their deadline.
func (s *SlidingWindow) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			evicted := 0
			for key, w := range s.windows {
				if now.Sub(w.lastSeen) > s.ttl {
					delete(s.windows, key)
					evicted++
				}
			}
			if evicted > 0 {
				s.atCapacity = false
			}
			tracked := len(s.windows)
			s.mu.Unlock()
			if s.OnSweep != nil {
				s.OnSweep(tracked, evicted)
			}
		}
	}
}
