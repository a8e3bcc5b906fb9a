package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/craddockd/msgwall/internal/xerrors"
)

// admitScript makes purge + count + record atomic on the Redis side, so the
// limit holds across gateway instances sharing one Redis. One sorted set per
// key, scored by admission time in milliseconds.
//
// Returns {allowed, count, retry_after_ms}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, count, retry}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisWindow is a sliding-window Store shared by every instance pointed at
// the same Redis. Key eviction is Redis's job: each set carries a PEXPIRE of
// one window, refreshed on admission.
type RedisWindow struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisWindow creates a Redis-backed store. prefix namespaces the keys
// (e.g. "msgwall:rl:").
func NewRedisWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "msgwall:rl:"
	}
	return &RedisWindow{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (s *RedisWindow) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}

	res, err := admitScript.Run(ctx, s.rdb,
		[]string{s.prefix + key},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(s.window.Milliseconds(), 10),
		strconv.Itoa(s.limit),
		member(now),
	).Result()
	if err != nil {
		return Decision{}, xerrors.Wrap(err, "redis admit")
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, xerrors.Newf("redis admit: unexpected script reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	retryMs, _ := vals[2].(int64)

	if allowed == 0 {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Duration(retryMs) * time.Millisecond,
		}, nil
	}
	remaining := s.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// member builds a unique sorted-set member: multiple admissions may share a
// millisecond score, and members must not collide across instances.
func member(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b[:])
}
