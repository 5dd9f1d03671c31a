// Package zkp verifies the zero-knowledge proofs presented at login and password reset.
package zkp

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// EngineGroth16 is the configuration name of the Groth16 engine.
const EngineGroth16 = "groth16"

// Prover produces proofs for a statement. The server never needs one; tooling and tests do.
type Prover interface {
	Prove(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error)
}

// Groth16Engine verifies snarkjs Groth16 proofs over BN254.
type Groth16Engine struct {
	vk     *VerifyingKey
	prover Prover
	logger *zap.Logger
	tracer trace.Tracer
}

var _ port.ProofEngine = (*Groth16Engine)(nil)

// NewGroth16Engine constructs an engine. A nil key makes every verification fail with
// domain.ErrProofEngineConfiguration.
func NewGroth16Engine(vk *VerifyingKey, logger *zap.Logger) *Groth16Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Groth16Engine{vk: vk, logger: logger, tracer: otel.Tracer("zk-iam/zkp")}
}

// WithProver attaches a prover used by GenerateProof.
func (e *Groth16Engine) WithProver(p Prover) *Groth16Engine {
	e.prover = p
	return e
}

// Name identifies the engine.
func (e *Groth16Engine) Name() string {
	return EngineGroth16
}

// ValidatePublicKey requires a non-zero canonical scalar field element.
func (e *Groth16Engine) ValidatePublicKey(publicKey string) error {
	v, ok := ParseScalar(publicKey)
	if !ok || v.Sign() == 0 {
		return domain.ErrInvalidPublicKey
	}
	return nil
}

// GenerateProof delegates to the attached prover.
func (e *Groth16Engine) GenerateProof(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error) {
	if e.prover == nil {
		return nil, domain.ErrProverUnavailable
	}
	return e.prover.Prove(ctx, statement, witness)
}

// VerifyProof checks structure, the public key binding and finally the pairing equation.
func (e *Groth16Engine) VerifyProof(ctx context.Context, proof domain.Proof, publicSignals []string, verifyingMaterial string) (bool, error) {
	if e.vk == nil {
		return false, fmt.Errorf("%w: verifying key not loaded", domain.ErrProofEngineConfiguration)
	}
	if e.vk.NPublic() < domain.PublicSignalCount {
		return false, fmt.Errorf("%w: verifying key exposes %d public signals", domain.ErrProofEngineConfiguration, e.vk.NPublic())
	}

	ctx, span := e.tracer.Start(ctx, "zkp.groth16.verify")
	defer span.End()

	ok, reason := e.verify(ctx, proof, publicSignals, verifyingMaterial)
	span.SetAttributes(attribute.Bool("zkp.valid", ok))
	if !ok {
		span.SetStatus(codes.Error, reason)
		e.logger.Debug("proof rejected", zap.String("reason", reason))
	}
	return ok, nil
}

func (e *Groth16Engine) verify(ctx context.Context, proof domain.Proof, signals []string, verifyingMaterial string) (bool, string) {
	if proof.Tampered {
		return false, "tampered marker set"
	}
	if !strings.EqualFold(proof.Protocol, protocolGroth16) {
		return false, "unsupported protocol"
	}
	if proof.Curve != "" && !isBN254(proof.Curve) {
		return false, "unsupported curve"
	}
	if len(signals) != e.vk.NPublic() {
		return false, "public signal count mismatch"
	}
	if reason := checkChallenge(signals[domain.SignalChallenge]); reason != "" {
		return false, reason
	}

	inputs := make([]*big.Int, len(signals))
	for i, raw := range signals {
		v, ok := ParseScalar(raw)
		if !ok {
			return false, fmt.Sprintf("public signal %d is not a field element", i)
		}
		inputs[i] = v
	}

	bound, ok := ParseScalar(verifyingMaterial)
	if !ok || bound.Cmp(inputs[domain.SignalPublicKey]) != 0 {
		return false, "public key binding mismatch"
	}

	a, ok := parseG1(proof.PiA)
	if !ok {
		return false, "pi_a is not a valid G1 point"
	}
	b, ok := parseG2(proof.PiB)
	if !ok {
		return false, "pi_b is not a valid G2 point"
	}
	c, ok := parseG1(proof.PiC)
	if !ok {
		return false, "pi_c is not a valid G1 point"
	}

	if err := ctx.Err(); err != nil {
		return false, "context cancelled"
	}

	valid, err := e.vk.verify(a, b, c, inputs)
	if err != nil {
		return false, "pairing check failed: " + err.Error()
	}
	if !valid {
		return false, "pairing equation does not hold"
	}
	return true, ""
}

// checkChallenge rejects the sentinel challenge values clients send when they skipped the nonce.
func checkChallenge(raw string) string {
	switch strings.TrimSpace(raw) {
	case "", "0":
		return "sentinel challenge"
	default:
		return ""
	}
}
