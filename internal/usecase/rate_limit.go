package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

const (
	rateLimitKeyPrefix = "rate-limit:"
	strikeKeyPrefix    = "lockout:"
	maxStrikeShift     = 16
)

// RateLimitObserver receives a notification for every rejected attempt.
type RateLimitObserver interface {
	ObserveRateLimited(purpose string)
}

// LockoutPolicy escalates the window of keys that keep reaching their limit.
// Each time a key is exhausted it collects a strike, remembered for StrikeMemory,
// and the window is stretched to window * 2^(strikes-1), never beyond MaxLockout. A Reset after a
// successful attempt forgives the strikes.
type LockoutPolicy struct {
	StrikeMemory time.Duration
	MaxLockout   time.Duration
}

// RateLimitDecision describes the result of a single attempt against a key.
type RateLimitDecision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RateLimiter counts attempts per key in fixed windows.
type RateLimiter struct {
	counters port.CounterStore
	policy   LockoutPolicy
	observer RateLimitObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewRateLimiter constructs a limiter on top of an atomic counter store.
func NewRateLimiter(counters port.CounterStore, policy LockoutPolicy, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		counters: counters,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (r *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	if clock != nil {
		r.now = clock
	}
	return r
}

// WithObserver attaches a rejection observer.
func (r *RateLimiter) WithObserver(observer RateLimitObserver) *RateLimiter {
	r.observer = observer
	return r
}

// CheckAndIncrement records one attempt against key. The check and the increment happen atomically
// in the store, so concurrent callers can never push the count past limit. When the store cannot
// be reached the attempt is allowed and the failure logged.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error) {
	now := r.now()
	decision := RateLimitDecision{Limit: int64(limit)}
	if limit <= 0 || window <= 0 {
		decision.Allowed = true
		return decision, nil
	}

	counterKey := rateLimitKeyPrefix + key
	state, err := r.counters.IncrementBounded(ctx, counterKey, int64(limit), window)
	if err != nil {
		r.logger.Warn("rate limit store unavailable, allowing attempt", zap.String("purpose", purposeOf(key)), zap.Error(err))
		decision.Allowed = true
		decision.Remaining = int64(limit)
		return decision, nil
	}

	ttl := state.TTL
	if ttl <= 0 {
		ttl = window
	}
	decision.Count = state.Count
	decision.ResetAt = now.Add(ttl)

	if !state.Allowed {
		decision.RetryAfter = ttl
		if r.observer != nil {
			r.observer.ObserveRateLimited(purposeOf(key))
		}
		r.logger.Debug("rate limit exceeded", zap.String("purpose", purposeOf(key)), zap.Int64("count", state.Count), zap.Duration("retry_after", ttl))
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = int64(limit) - state.Count
	if state.Count >= int64(limit) {
		if lock := r.escalate(ctx, key, window); lock > ttl {
			decision.ResetAt = now.Add(lock)
		}
	}
	return decision, nil
}

// Reset clears the counter and the strikes of key. Callers reset only after a successful attempt,
// so a user who gets in on the last allowed try carries no strike into the next window.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.counters.Reset(ctx, rateLimitKeyPrefix+key, strikeKeyPrefix+key)
}

func (r *RateLimiter) escalate(ctx context.Context, key string, window time.Duration) time.Duration {
	if r.policy.MaxLockout <= window || r.policy.StrikeMemory <= 0 {
		return window
	}
	strikes, err := r.counters.Increment(ctx, strikeKeyPrefix+key, r.policy.StrikeMemory)
	if err != nil {
		r.logger.Warn("record lockout strike failed", zap.String("purpose", purposeOf(key)), zap.Error(err))
		return window
	}
	shift := strikes - 1
	if shift > maxStrikeShift {
		shift = maxStrikeShift
	}
	lock := window << uint(shift)
	if lock > r.policy.MaxLockout || lock <= 0 {
		lock = r.policy.MaxLockout
	}
	if lock <= window {
		return window
	}
	if err := r.counters.Expire(ctx, rateLimitKeyPrefix+key, lock); err != nil {
		r.logger.Warn("extend lockout window failed", zap.String("purpose", purposeOf(key)), zap.Error(err))
		return window
	}
	r.logger.Info("lockout escalated", zap.String("purpose", purposeOf(key)), zap.Int64("strikes", strikes), zap.Duration("lockout", lock))
	return lock
}

func purposeOf(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
