package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// ResetTokenRepository keeps hashed reset tokens with a ttl matching their expiry.
type ResetTokenRepository struct {
	store port.CredentialStore
	clock func() time.Time
}

var _ port.ResetTokenRepository = (*ResetTokenRepository)(nil)

// NewResetTokenRepository constructs the repository.
func NewResetTokenRepository(store port.CredentialStore) *ResetTokenRepository {
	return &ResetTokenRepository{store: store, clock: time.Now}
}

// WithClock overrides the time source used to derive the storage ttl.
func (r *ResetTokenRepository) WithClock(clock func() time.Time) *ResetTokenRepository {
	if clock != nil {
		r.clock = clock
	}
	return r
}

func resetKey(hash string) string {
	return "reset:" + hash
}

// Save stores token until it expires.
func (r *ResetTokenRepository) Save(ctx context.Context, token domain.ResetToken) error {
	ttl := token.ExpiresAt.Sub(r.clock())
	if ttl <= 0 {
		return errors.New("reset token already expired")
	}
	payload, err := encode(token)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, resetKey(token.TokenHash), payload, ttl); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return nil
}

// Consume fetches and deletes the token so it can be used at most once.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	raw, err := r.store.GetDel(ctx, resetKey(tokenHash))
	if err != nil {
		return nil, err
	}
	var token domain.ResetToken
	if err := decode(raw, &token); err != nil {
		return nil, err
	}
	return &token, nil
}
