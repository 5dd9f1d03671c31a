package memory

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/repository"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-process CredentialStore and CounterStore for development and tests.
// A single mutex makes every operation, including bounded increments, atomic.
type Store struct {
	mu    sync.Mutex
	data  map[string]entry
	clock func() time.Time
}

var (
	_ port.CredentialStore = (*Store)(nil)
	_ port.CounterStore    = (*Store)(nil)
)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]entry), clock: time.Now}
}

// WithClock overrides the time source, mainly for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.clock()) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock().Add(ttl)
}

// Get returns the live value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", repository.ErrNotFound
	}
	return e.value, nil
}

// Set stores value with an optional ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

// SetNX stores value when key is absent.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.data[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

// CompareAndSwap replaces the value of key when it still equals prev.
func (s *Store) CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return false, repository.ErrNotFound
	}
	if e.value != prev {
		return false, nil
	}
	e.value = next
	s.data[key] = e
	return true, nil
}

// GetDel returns and removes key.
func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", repository.ErrNotFound
	}
	delete(s.data, key)
	return e.value, nil
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// Keys returns live keys matching pattern, sorted.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for key := range s.data {
		if _, ok := s.lookup(key); !ok {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Expire resets the ttl of an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	e.expiresAt = s.deadline(ttl)
	s.data[key] = e
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
