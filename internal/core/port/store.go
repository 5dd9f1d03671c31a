package port

import (
	"context"
	"time"
)

// CredentialStore is the key-value contract every persistence backend satisfies.
// Missing keys surface as repository.ErrNotFound. A zero ttl stores the value without expiry.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the value of key with next only while it still equals prev. The ttl
	// is kept. A missing key is reported as repository.ErrNotFound.
	CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error)
	// GetDel atomically reads and removes key.
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	// Keys lists keys matching a glob pattern. Callers escape literal parts with a backslash.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// CounterState is the result of a bounded increment.
type CounterState struct {
	Allowed bool
	Count   int64
	TTL     time.Duration
}

// CounterStore provides atomic counters for throttling.
type CounterStore interface {
	// IncrementBounded increments key unless it already reached limit. The window starts on the
	// first increment. The read, compare and increment happen atomically.
	IncrementBounded(ctx context.Context, key string, limit int64, window time.Duration) (CounterState, error)
	// Increment unconditionally increments key and sets ttl when the key is new.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Reset(ctx context.Context, keys ...string) error
}
