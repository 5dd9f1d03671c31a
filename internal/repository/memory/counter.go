package memory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

func (s *Store) counter(key string) (int64, entry, error) {
	e, ok := s.lookup(key)
	if !ok {
		return 0, entry{}, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, entry{}, errors.New("value is not an integer")
	}
	return n, e, nil
}

func (s *Store) remaining(e entry) time.Duration {
	if e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(s.clock())
}

// IncrementBounded increments key unless it already reached limit.
func (s *Store) IncrementBounded(ctx context.Context, key string, limit int64, window time.Duration) (port.CounterState, error) {
	if window <= 0 {
		return port.CounterState{}, errors.New("window must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, e, err := s.counter(key)
	if err != nil {
		return port.CounterState{}, err
	}
	if current >= limit {
		return port.CounterState{Allowed: false, Count: current, TTL: s.remaining(e)}, nil
	}
	current++
	if current == 1 {
		e.expiresAt = s.deadline(window)
	}
	e.value = strconv.FormatInt(current, 10)
	s.data[key] = e
	return port.CounterState{Allowed: true, Count: current, TTL: s.remaining(e)}, nil
}

// Increment bumps key and sets ttl when the key is created.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.New("ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, e, err := s.counter(key)
	if err != nil {
		return 0, err
	}
	current++
	if current == 1 {
		e.expiresAt = s.deadline(ttl)
	}
	e.value = strconv.FormatInt(current, 10)
	s.data[key] = e
	return current, nil
}

// Reset removes counters.
func (s *Store) Reset(ctx context.Context, keys ...string) error {
	return s.Del(ctx, keys...)
}
