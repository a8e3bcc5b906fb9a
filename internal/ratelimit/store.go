package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when Admit is called with an empty client key.
// Admitting under an empty key would pool unrelated clients together, so the
// caller has to fix its key extraction instead.
var ErrEmptyKey = errors.New("ratelimit: empty client key")

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the quota left for this key after the check. Zero when
	// denied.
	Remaining int

	// RetryAfter is how long until the oldest counted request leaves the
	// window, i.e. the earliest time a retry could succeed. Zero when
	// allowed.
	RetryAfter time.Duration
}

// Store decides admission for one client key at one instant. Implementations
// must make the check-and-record atomic per key with respect to concurrent
// calls.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time) (Decision, error)
}

// Default limits: five write requests per rolling minute, per client.
const (
	DefaultLimit  = 5
	DefaultWindow = time.Minute
)
