// Package ratelimit provides per-client admission control for write requests,
// with pluggable counting stores and an HTTP middleware front end.
//
// The default store is an in-memory sliding window: per client key it keeps
// the timestamps of admitted requests inside the trailing window, purges
// expired entries lazily on each check, and denies once the retained count
// reaches the limit. Idle keys are evicted by a background sweep so the key
// map cannot grow without bound, and an optional capacity cap rejects brand
// new keys when the map is full.
//
// Alternative stores: a token bucket (golang.org/x/time/rate) for deployments
// that prefer burst smoothing over a hard window, and a Redis sorted-set
// store for the limit to hold across multiple gateway instances. The
// in-memory stores only bound traffic per instance.
//
// A denied admission is a normal outcome, not an error; the middleware maps
// it to 429 with a Retry-After hint and a machine-readable reason. The only
// input error is an empty client key, which is rejected rather than silently
// pooling unrelated clients into one bucket.
package ratelimit
