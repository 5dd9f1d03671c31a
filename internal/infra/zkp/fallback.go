package zkp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
)

const (
	// EngineArgon2Fallback is the configuration name of the fallback engine.
	EngineArgon2Fallback = "argon2-fallback"
	protocolFallback     = "hmac-argon2id"
)

// FallbackEngine authenticates without zero-knowledge. The public key is argon2id(secret, salt)
// and a proof is HMAC-SHA256 keyed with it over the public signals. Anyone holding the stored
// public key can forge proofs, so the stored key is password-equivalent.
type FallbackEngine struct {
	params security.Argon2Config
	logger *zap.Logger
}

var _ port.ProofEngine = (*FallbackEngine)(nil)

// NewFallbackEngine constructs the engine.
func NewFallbackEngine(params security.Argon2Config, logger *zap.Logger) (*FallbackEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackEngine{params: params, logger: logger}, nil
}

// Name identifies the engine.
func (e *FallbackEngine) Name() string {
	return EngineArgon2Fallback
}

// DerivePublicKey computes the public key a client registers for secret and salt.
func (e *FallbackEngine) DerivePublicKey(secret, salt string) (string, error) {
	key, err := security.DeriveKey(secret, salt, e.params)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// ValidatePublicKey requires lower-case hex of the configured key length.
func (e *FallbackEngine) ValidatePublicKey(publicKey string) error {
	if len(publicKey) != int(e.params.KeyLength)*2 || strings.ToLower(publicKey) != publicKey {
		return domain.ErrInvalidPublicKey
	}
	if _, err := hex.DecodeString(publicKey); err != nil {
		return domain.ErrInvalidPublicKey
	}
	return nil
}

// GenerateProof derives the key from the witness and MACs the statement.
func (e *FallbackEngine) GenerateProof(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error) {
	if len(statement.PublicSignals) != domain.PublicSignalCount {
		return nil, fmt.Errorf("%w: statement needs %d public signals", domain.ErrInvalidProof, domain.PublicSignalCount)
	}
	publicKey, err := e.DerivePublicKey(witness.Secret, witness.Salt)
	if err != nil {
		return nil, err
	}
	if publicKey != statement.PublicSignals[domain.SignalPublicKey] {
		return nil, fmt.Errorf("%w: witness does not open the public key", domain.ErrInvalidProof)
	}
	key, _ := hex.DecodeString(publicKey)
	return &domain.Proof{
		PiA:      []string{hex.EncodeToString(mac(key, statement.PublicSignals))},
		Protocol: protocolFallback,
		Curve:    "none",
	}, nil
}

// VerifyProof recomputes the MAC with the stored public key.
func (e *FallbackEngine) VerifyProof(ctx context.Context, proof domain.Proof, publicSignals []string, verifyingMaterial string) (bool, error) {
	reject := func(reason string) (bool, error) {
		e.logger.Debug("proof rejected", zap.String("reason", reason))
		return false, nil
	}
	if proof.Tampered {
		return reject("tampered marker set")
	}
	if proof.Protocol != protocolFallback || len(proof.PiA) != 1 {
		return reject("unsupported proof structure")
	}
	if len(publicSignals) != domain.PublicSignalCount {
		return reject("public signal count mismatch")
	}
	if reason := checkChallenge(publicSignals[domain.SignalChallenge]); reason != "" {
		return reject(reason)
	}
	if e.ValidatePublicKey(verifyingMaterial) != nil || !security.ConstantTimeEqual(publicSignals[domain.SignalPublicKey], verifyingMaterial) {
		return reject("public key binding mismatch")
	}
	presented, err := hex.DecodeString(proof.PiA[0])
	if err != nil {
		return reject("proof is not hex")
	}
	key, _ := hex.DecodeString(verifyingMaterial)
	if !hmac.Equal(presented, mac(key, publicSignals)) {
		return reject("mac mismatch")
	}
	return true, nil
}

func mac(key []byte, signals []string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(strings.Join(signals, "|")))
	return m.Sum(nil)
}
