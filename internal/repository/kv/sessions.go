package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// SessionRevocationStore keeps the jti deny list and per-user watermarks.
type SessionRevocationStore struct {
	store port.CredentialStore
}

var _ port.SessionRevocationStore = (*SessionRevocationStore)(nil)

// NewSessionRevocationStore constructs the store.
func NewSessionRevocationStore(store port.CredentialStore) *SessionRevocationStore {
	return &SessionRevocationStore{store: store}
}

// RevokeToken deny-lists jti for ttl, normally the remaining token lifetime.
func (s *SessionRevocationStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("jti must not be empty")
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.store.Set(ctx, "denylist:"+jti, "1", ttl); err != nil {
		return fmt.Errorf("deny-list token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports deny-list membership.
func (s *SessionRevocationStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if _, err := s.store.Get(ctx, "denylist:"+jti); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check deny-list: %w", err)
	}
	return true, nil
}

// SetWatermark invalidates every session of userID issued before at.
func (s *SessionRevocationStore) SetWatermark(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	value := strconv.FormatInt(at.UnixNano(), 10)
	if err := s.store.Set(ctx, "watermark:"+userID, value, ttl); err != nil {
		return fmt.Errorf("set session watermark: %w", err)
	}
	return nil
}

// Watermark returns the user's watermark or the zero time.
func (s *SessionRevocationStore) Watermark(ctx context.Context, userID string) (time.Time, error) {
	raw, err := s.store.Get(ctx, "watermark:"+userID)
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read session watermark: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session watermark: %w", err)
	}
	return time.Unix(0, nanos), nil
}
