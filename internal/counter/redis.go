// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package counter

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
)

var _ auth.SharedCounterStore = (*RedisStore)(nil)

// incrementScript increments KEYS[1] and applies the TTL (ARGV[1], in
// milliseconds) when the key was just created or has no expiry.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// incrementWithMarkScript increments KEYS[1] like incrementScript and sets
// KEYS[2] to ARGV[3] for ARGV[4] milliseconds once the count reaches ARGV[2].
var incrementWithMarkScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n >= tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
end
return n
`)

// bumpScript increments KEYS[1] and restarts its TTL at ARGV[1] milliseconds.
var bumpScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

// windowScript keeps a sorted set of event times in milliseconds. ARGV is
// now, window, limit, the member for a new event and the cutoff at or before
// which events are dropped. It returns the count, the oldest score (0 when
// empty) and 1 if the event was recorded.
var windowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[5])
local n = redis.call('ZCARD', KEYS[1])
local recorded = 0
if n < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  n = n + 1
  recorded = 1
end
local oldest = 0
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {n, oldest, recorded}
`)

// RedisStore implements auth.SharedCounterStore on Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store that namespaces every key with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns the value of key and whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("COUNTER_GET_FAILED").With("key", key).Wrap(err)
	}
	return v, true, nil
}

// Increment atomically adds one to key, creating it with ttl if missing.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}
	n, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, oops.Code("COUNTER_INCREMENT_FAILED").With("key", key).Wrap(err)
	}
	return n, nil
}

// IncrementWithMark increments key and writes mark in the same script once
// the count reaches mark.Threshold. Both keys must hash to one cluster slot.
func (s *RedisStore) IncrementWithMark(ctx context.Context, key string, ttl time.Duration, mark auth.ThresholdMark) (int64, error) {
	if ttl <= 0 || mark.TTL <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).With("mark_key", mark.Key).Errorf("ttl must be positive")
	}
	n, err := incrementWithMarkScript.Run(ctx, s.client,
		[]string{s.key(key), s.key(mark.Key)},
		ttl.Milliseconds(), mark.Threshold, mark.Value, mark.TTL.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, oops.Code("COUNTER_INCREMENT_FAILED").With("key", key).With("mark_key", mark.Key).Wrap(err)
	}
	return n, nil
}

// Bump atomically adds one to key and restarts its TTL.
func (s *RedisStore) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}
	n, err := bumpScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, oops.Code("COUNTER_INCREMENT_FAILED").With("key", key).Wrap(err)
	}
	return n, nil
}

// GetAndExtend returns the value of key and restarts its TTL if it exists.
func (s *RedisStore) GetAndExtend(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	if ttl <= 0 {
		return 0, false, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}
	v, err := s.client.GetEx(ctx, s.key(key), ttl).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("COUNTER_GET_FAILED").With("key", key).Wrap(err)
	}
	return v, true, nil
}

// Set stores value with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl <= 0 {
		return oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("ttl must be positive")
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return oops.Code("COUNTER_SET_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

// Delete removes the keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return oops.Code("COUNTER_DELETE_FAILED").With("keys", keys).Wrap(err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or zero when it is missing.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, oops.Code("COUNTER_TTL_FAILED").With("key", key).Wrap(err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// RecordInWindow records an event at now unless limit events already fall
// inside (now-window, now]. Events are kept in a sorted set scored by time.
func (s *RedisStore) RecordInWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (auth.WindowResult, error) {
	if window <= 0 {
		return auth.WindowResult{}, oops.Code("COUNTER_INVALID_TTL").With("key", key).Errorf("window must be positive")
	}
	res, err := windowScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, ulid.Make().String(), now.Add(-window).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return auth.WindowResult{}, oops.Code("COUNTER_WINDOW_FAILED").With("key", key).Wrap(err)
	}
	if len(res) != 3 {
		return auth.WindowResult{}, oops.Code("COUNTER_WINDOW_FAILED").With("key", key).With("reply", res).Errorf("unexpected script reply")
	}

	out := auth.WindowResult{Count: res[0], Recorded: res[2] == 1}
	if res[0] > 0 {
		out.Oldest = time.UnixMilli(res[1])
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("COUNTER_PING_FAILED").Wrap(err)
	}
	return nil
}
