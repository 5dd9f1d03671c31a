package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_ExpiresEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore().WithClock(clock.Now)
	ctx := context.Background()

	if err := store.Set(ctx, "denylist:jti", "1", time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, err := store.Get(ctx, "denylist:jti"); err != nil {
		t.Fatalf("expected live entry, got %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := store.Get(ctx, "denylist:jti"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected expired entry to be gone, got %v", err)
	}
}

func TestStore_KeysMatchesGlob(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_ = store.Set(ctx, "role-name:t1:tenant:_:admin", "r1", 0)
	_ = store.Set(ctx, "role-name:t2:tenant:_:admin", "r2", 0)

	keys, err := store.Keys(ctx, "role-name:t1:*")
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "role-name:t1:tenant:_:admin" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestStore_IncrementBoundedIsAtomic(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := store.IncrementBounded(ctx, "rate-limit:login:x", 5, time.Minute)
			if err != nil {
				t.Errorf("IncrementBounded returned error: %v", err)
				return
			}
			if state.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Fatalf("expected 5 allowed increments, got %d", allowed)
	}
}

func TestStore_IncrementBoundedWindowReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore().WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.IncrementBounded(ctx, "k", 2, time.Minute); err != nil {
			t.Fatalf("IncrementBounded returned error: %v", err)
		}
	}
	state, _ := store.IncrementBounded(ctx, "k", 2, time.Minute)
	if state.Allowed || state.Count != 2 {
		t.Fatalf("expected rejection at limit, got %+v", state)
	}
	if state.TTL != time.Minute {
		t.Fatalf("expected full window remaining, got %v", state.TTL)
	}

	clock.Advance(time.Minute)
	state, _ = store.IncrementBounded(ctx, "k", 2, time.Minute)
	if !state.Allowed || state.Count != 1 {
		t.Fatalf("expected new window, got %+v", state)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore().WithClock(clock.Now)
	ctx := context.Background()

	if _, err := store.CompareAndSwap(ctx, "user:alice", "a", "b"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing key, got %v", err)
	}
	_ = store.Set(ctx, "user:alice", "v1", time.Minute)

	swapped, err := store.CompareAndSwap(ctx, "user:alice", "stale", "v2")
	if err != nil || swapped {
		t.Fatalf("stale swap must be refused, got %v %v", swapped, err)
	}
	swapped, err = store.CompareAndSwap(ctx, "user:alice", "v1", "v2")
	if err != nil || !swapped {
		t.Fatalf("expected swap, got %v %v", swapped, err)
	}
	if v, _ := store.Get(ctx, "user:alice"); v != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}

	clock.Advance(time.Minute)
	if _, err := store.Get(ctx, "user:alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("swap must keep the original ttl, got %v", err)
	}
}

func TestStore_KeysHonoursEscapes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_ = store.Set(ctx, "assignment:u1:r1:_:_", "{}", 0)
	_ = store.Set(ctx, "assignment:*:r1:_:_", "{}", 0)

	keys, err := store.Keys(ctx, `assignment:\*:*`)
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "assignment:*:r1:_:_" {
		t.Fatalf("escaped star must match literally, got %v", keys)
	}
}
