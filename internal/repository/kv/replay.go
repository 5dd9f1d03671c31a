package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// ReplayLedger records spent challenges under replay:<fingerprint>.
type ReplayLedger struct {
	store port.CredentialStore
}

var _ port.ReplayLedger = (*ReplayLedger)(nil)

// NewReplayLedger constructs the ledger.
func NewReplayLedger(store port.CredentialStore) *ReplayLedger {
	return &ReplayLedger{store: store}
}

// Claim returns false when fingerprint was seen within ttl.
func (l *ReplayLedger) Claim(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	ok, err := l.store.SetNX(ctx, "replay:"+fingerprint, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("claim replay fingerprint: %w", err)
	}
	return ok, nil
}
