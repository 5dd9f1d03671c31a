package redis

import (
	"context"
	"fmt"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// KEYS[1] counter, ARGV[1] limit, ARGV[2] window in milliseconds.
// Returns {allowed, count, pttl}.
var boundedIncrementScript = red.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// KEYS[1] counter, ARGV[1] ttl in milliseconds.
var incrementScript = red.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// IncrementBounded atomically increments key unless the limit is already reached.
func (s *Store) IncrementBounded(ctx context.Context, key string, limit int64, window time.Duration) (port.CounterState, error) {
	if window <= 0 {
		return port.CounterState{}, fmt.Errorf("window must be positive")
	}
	raw, err := boundedIncrementScript.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return port.CounterState{}, fmt.Errorf("redis bounded increment: %w", err)
	}
	if len(raw) != 3 {
		return port.CounterState{}, fmt.Errorf("redis bounded increment: unexpected reply length %d", len(raw))
	}
	state := port.CounterState{Allowed: raw[0] == 1, Count: raw[1]}
	if raw[2] > 0 {
		state.TTL = time.Duration(raw[2]) * time.Millisecond
	}
	return state, nil
}

// Increment bumps key and starts its ttl on first use.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive")
	}
	count, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	return count, nil
}

// Reset removes counters.
func (s *Store) Reset(ctx context.Context, keys ...string) error {
	return s.Del(ctx, keys...)
}
