package port

import (
	"context"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// ProofEngine verifies and, where supported, produces zero-knowledge proofs.
type ProofEngine interface {
	// VerifyProof returns false for malformed, tampered or invalid proofs. An error is returned only
	// when the engine itself cannot operate, e.g. no verifying key is loaded.
	VerifyProof(ctx context.Context, proof domain.Proof, publicSignals []string, verifyingMaterial string) (bool, error)
	GenerateProof(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error)
	ValidatePublicKey(publicKey string) error
	Name() string
}
