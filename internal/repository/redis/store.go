package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/repository"
)

const (
	defaultKeyPrefix = "zkiam"
	scanBatch        = 200
)

// Store implements port.CredentialStore and port.CounterStore on top of Redis.
type Store struct {
	client *red.Client
	prefix string
}

var (
	_ port.CredentialStore = (*Store)(nil)
	_ port.CounterStore    = (*Store)(nil)
)

// NewStore wires a Redis client into a namespaced store.
func NewStore(client *red.Client, keyPrefix string) *Store {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Get returns the value stored at key or repository.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores value, expiring it after ttl when ttl is positive.
func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetNX stores value only if key does not exist yet.
func (s *Store) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, clampTTL(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// compareAndSwapScript returns -1 for a missing key, 0 on a mismatch and 1 after the swap.
var compareAndSwapScript = red.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
return 1
`)

// CompareAndSwap replaces the value at key when it still equals prev.
func (s *Store) CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error) {
	res, err := compareAndSwapScript.Run(ctx, s.client, []string{s.key(key)}, prev, next).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare and swap: %w", err)
	}
	switch res {
	case -1:
		return false, repository.ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// GetDel reads and deletes key in one round trip.
func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis getdel: %w", err)
	}
	return value, nil
}

// Del removes keys. Missing keys are ignored.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.key(key)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys walks the keyspace with SCAN and returns matches without the store prefix.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	match := s.key(pattern)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range batch {
			out = append(out, strings.TrimPrefix(key, s.prefix+":"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return dedupe(out), nil
}

// Expire updates the time to live of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) key(key string) string {
	return s.prefix + ":" + key
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// SCAN may return a key more than once.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
