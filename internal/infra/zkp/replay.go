package zkp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

const defaultReplayWindow = 24 * time.Hour

// ReplayGuardedEngine rejects a proof whose challenge signal was already accepted once.
// The challenge is claimed only after the inner engine accepted the proof, so garbage
// submissions cannot burn a legitimate client's nonce.
type ReplayGuardedEngine struct {
	port.ProofEngine
	ledger port.ReplayLedger
	window time.Duration
	logger *zap.Logger
}

// NewReplayGuardedEngine wraps inner. window bounds how long spent challenges are remembered.
func NewReplayGuardedEngine(inner port.ProofEngine, ledger port.ReplayLedger, window time.Duration, logger *zap.Logger) *ReplayGuardedEngine {
	if window <= 0 {
		window = defaultReplayWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayGuardedEngine{ProofEngine: inner, ledger: ledger, window: window, logger: logger}
}

// VerifyProof verifies with the inner engine and then claims the challenge.
func (e *ReplayGuardedEngine) VerifyProof(ctx context.Context, proof domain.Proof, publicSignals []string, verifyingMaterial string) (bool, error) {
	ok, err := e.ProofEngine.VerifyProof(ctx, proof, publicSignals, verifyingMaterial)
	if err != nil || !ok {
		return ok, err
	}
	fresh, err := e.ledger.Claim(ctx, ChallengeFingerprint(publicSignals), e.window)
	if err != nil {
		return false, fmt.Errorf("replay ledger: %w", err)
	}
	if !fresh {
		e.logger.Debug("proof rejected", zap.String("reason", "replayed challenge"))
		return false, nil
	}
	return true, nil
}

// ChallengeFingerprint hashes the challenge and bound key so the ledger never stores raw signals.
func ChallengeFingerprint(publicSignals []string) string {
	h := sha256.New()
	for i, s := range publicSignals {
		if i > domain.SignalPublicKey {
			break
		}
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
