package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/craddockd/msgwall/internal/httpmw"
)

// Limiter is the HTTP front end over a Store. It gates write methods only;
// reads pass through untouched. The client key is the resolved client IP
// from the httpmw context.
type Limiter struct {
	store   Store
	methods map[string]bool
	now     func() time.Time

	// OnDenied fires on every denied request, for counters.
	OnDenied func(key string)

	// OnFirstDenied fires at most once per key per notification window, for
	// a single log line per offender instead of one per denied request.
	OnFirstDenied func(key string)

	// OnError fires when the store fails (e.g. Redis unreachable). The
	// request is then admitted: this limiter is best-effort protection, and
	// an outage should not take writes down with it.
	OnError func(err error)

	mu       sync.Mutex
	notified map[string]struct{}
}

type Option func(*Limiter)

// WithMethods overrides the set of gated methods. Default: POST, PUT,
// PATCH, DELETE.
func WithMethods(methods ...string) Option {
	return func(l *Limiter) {
		l.methods = make(map[string]bool, len(methods))
		for _, m := range methods {
			l.methods[m] = true
		}
	}
}

// WithOnDenied sets the per-denial callback.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnFirstDenied sets the once-per-offender callback.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnError sets the store-failure callback.
func WithOnError(fn func(err error)) Option {
	return func(l *Limiter) { l.OnError = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New wraps store in a Limiter. The first-denial notification set is cleared
// every notifyTTL; the goroutine exits when ctx is cancelled.
func New(ctx context.Context, store Store, notifyTTL time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if notifyTTL <= 0 {
		notifyTTL = 5 * time.Minute
	}
	go l.resetNotified(ctx, notifyTTL)
	return l
}

// Middleware rejects over-limit write requests with 429 and a Retry-After
// hint. A request with no resolvable client key gets 400 rather than being
// pooled into a shared bucket.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.methods[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		key := httpmw.ClientIPFromContext(r.Context())
		d, err := l.store.Admit(r.Context(), key, l.now())
		if err != nil {
			if errors.Is(err, ErrEmptyKey) {
				writeJSONError(w, http.StatusBadRequest, "invalid_client", "client address could not be determined")
				return
			}
			if l.OnError != nil {
				l.OnError(err)
			}
			// fail open
			next.ServeHTTP(w, r)
			return
		}

		if !d.Allowed {
			l.notifyDenied(key)
			retrySecs := int(d.RetryAfter.Seconds())
			if d.RetryAfter > 0 {
				// round up so clients never retry a hair too early
				if d.RetryAfter%time.Second != 0 {
					retrySecs++
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySecs))
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limited","message":"too many requests","retry_after_seconds":%d}`, retrySecs)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) notifyDenied(key string) {
	if l.OnDenied != nil {
		l.OnDenied(key)
	}
	if l.OnFirstDenied == nil {
		return
	}
	l.mu.Lock()
	_, seen := l.notified[key]
	if !seen {
		l.notified[key] = struct{}{}
	}
	l.mu.Unlock()
	if !seen {
		l.OnFirstDenied(key)
	}
}

func (l *Limiter) resetNotified(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.notified = make(map[string]struct{})
			l.mu.Unlock()
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, code, msg)
}
