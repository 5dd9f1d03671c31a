package zkp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// TrapdoorSetup is a Groth16 key pair whose toxic waste is retained. Knowing the trapdoor
// allows valid proofs to be simulated for any public input, so it exists only for local
// tooling and tests and must never back a production deployment.
type TrapdoorSetup struct {
	Key   *VerifyingKey
	alpha *big.Int
	beta  *big.Int
	gamma *big.Int
	delta *big.Int
	ic    []*big.Int
}

type trapdoorJSON struct {
	Alpha string   `json:"alpha"`
	Beta  string   `json:"beta"`
	Gamma string   `json:"gamma"`
	Delta string   `json:"delta"`
	IC    []string `json:"ic"`
}

func randomScalar(rnd io.Reader) (*big.Int, error) {
	for {
		v, err := rand.Int(rnd, scalarModulus)
		if err != nil {
			return nil, fmt.Errorf("sample scalar: %w", err)
		}
		if v.Sign() != 0 {
			return v, nil
		}
	}
}

// NewTrapdoorSetup samples a fresh trapdoor for a circuit with nPublic public signals.
func NewTrapdoorSetup(nPublic int, rnd io.Reader) (*TrapdoorSetup, error) {
	if nPublic < 1 {
		return nil, fmt.Errorf("nPublic must be positive")
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	s := &TrapdoorSetup{ic: make([]*big.Int, nPublic+1)}
	var err error
	for _, dst := range []**big.Int{&s.alpha, &s.beta, &s.gamma, &s.delta} {
		if *dst, err = randomScalar(rnd); err != nil {
			return nil, err
		}
	}
	for i := range s.ic {
		if s.ic[i], err = randomScalar(rnd); err != nil {
			return nil, err
		}
	}
	s.deriveKey()
	return s, nil
}

func (s *TrapdoorSetup) deriveKey() {
	_, _, g1, g2 := bn254.Generators()
	vk := &VerifyingKey{IC: make([]bn254.G1Affine, len(s.ic))}
	vk.Alpha1.ScalarMultiplication(&g1, s.alpha)
	vk.Beta2.ScalarMultiplication(&g2, s.beta)
	vk.Gamma2.ScalarMultiplication(&g2, s.gamma)
	vk.Delta2.ScalarMultiplication(&g2, s.delta)
	for i, k := range s.ic {
		vk.IC[i].ScalarMultiplication(&g1, k)
	}
	s.Key = vk
}

// MarshalJSON serialises the trapdoor scalars.
func (s *TrapdoorSetup) MarshalJSON() ([]byte, error) {
	doc := trapdoorJSON{
		Alpha: s.alpha.String(),
		Beta:  s.beta.String(),
		Gamma: s.gamma.String(),
		Delta: s.delta.String(),
		IC:    make([]string, len(s.ic)),
	}
	for i, k := range s.ic {
		doc.IC[i] = k.String()
	}
	return json.Marshal(doc)
}

// ParseTrapdoorSetup restores a setup written by MarshalJSON and rebuilds its verifying key.
func ParseTrapdoorSetup(raw []byte) (*TrapdoorSetup, error) {
	var doc trapdoorJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode trapdoor: %w", err)
	}
	if len(doc.IC) < 2 {
		return nil, fmt.Errorf("trapdoor needs at least one public signal")
	}
	s := &TrapdoorSetup{ic: make([]*big.Int, len(doc.IC))}
	fields := []struct {
		raw string
		dst **big.Int
	}{{doc.Alpha, &s.alpha}, {doc.Beta, &s.beta}, {doc.Gamma, &s.gamma}, {doc.Delta, &s.delta}}
	for _, f := range fields {
		v, ok := ParseScalar(f.raw)
		if !ok || v.Sign() == 0 {
			return nil, fmt.Errorf("trapdoor scalar %q is invalid", f.raw)
		}
		*f.dst = v
	}
	for i, raw := range doc.IC {
		v, ok := ParseScalar(raw)
		if !ok {
			return nil, fmt.Errorf("trapdoor ic[%d] is invalid", i)
		}
		s.ic[i] = v
	}
	s.deriveKey()
	return s, nil
}

// Simulate builds a proof that verifies for inputs under s.Key:
// c = (a*b - alpha*beta - x*gamma) / delta, with x = ic0 + sum(input_i * ic_i+1).
func (s *TrapdoorSetup) Simulate(inputs []*big.Int, rnd io.Reader) (*domain.Proof, error) {
	if len(inputs) != len(s.ic)-1 {
		return nil, fmt.Errorf("expected %d public inputs, got %d", len(s.ic)-1, len(inputs))
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	r := scalarModulus

	x := new(big.Int).Set(s.ic[0])
	for i, in := range inputs {
		x.Add(x, new(big.Int).Mul(in, s.ic[i+1]))
	}
	x.Mod(x, r)

	deltaInv := new(big.Int).ModInverse(s.delta, r)
	alphaBeta := new(big.Int).Mul(s.alpha, s.beta)
	xGamma := new(big.Int).Mul(x, s.gamma)

	for {
		a, err := randomScalar(rnd)
		if err != nil {
			return nil, err
		}
		b, err := randomScalar(rnd)
		if err != nil {
			return nil, err
		}

		c := new(big.Int).Mul(a, b)
		c.Sub(c, alphaBeta)
		c.Sub(c, xGamma)
		c.Mul(c, deltaInv)
		c.Mod(c, r)
		if c.Sign() == 0 {
			continue
		}

		_, _, g1, g2 := bn254.Generators()
		var pa, pc bn254.G1Affine
		var pb bn254.G2Affine
		pa.ScalarMultiplication(&g1, a)
		pb.ScalarMultiplication(&g2, b)
		pc.ScalarMultiplication(&g1, c)

		return &domain.Proof{
			PiA:      formatG1(&pa),
			PiB:      formatG2(&pb),
			PiC:      formatG1(&pc),
			Protocol: protocolGroth16,
			Curve:    curveBN128,
		}, nil
	}
}

// CommitSecret maps a secret and salt to the public key used by the simulated circuit:
// SHA-256(salt || 0x00 || secret) reduced into the scalar field.
func CommitSecret(secret, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(secret))
	v := new(big.Int).SetBytes(h.Sum(nil))
	v.Mod(v, scalarModulus)
	if v.Sign() == 0 {
		v.SetInt64(1)
	}
	return v.String()
}

// TrapdoorProver simulates proofs from a TrapdoorSetup. When a witness secret is supplied the
// prover enforces what the circuit would: the secret must open the bound public key.
type TrapdoorProver struct {
	setup *TrapdoorSetup
	rand  io.Reader
}

var _ Prover = (*TrapdoorProver)(nil)

// NewTrapdoorProver constructs a prover over setup.
func NewTrapdoorProver(setup *TrapdoorSetup) *TrapdoorProver {
	return &TrapdoorProver{setup: setup, rand: rand.Reader}
}

// Prove simulates a proof for statement.
func (p *TrapdoorProver) Prove(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signals := statement.PublicSignals
	if len(signals) < domain.PublicSignalCount {
		return nil, fmt.Errorf("%w: statement needs %d public signals", domain.ErrInvalidProof, domain.PublicSignalCount)
	}
	inputs := make([]*big.Int, len(signals))
	for i, raw := range signals {
		v, ok := ParseScalar(raw)
		if !ok {
			return nil, fmt.Errorf("%w: public signal %d is not a field element", domain.ErrInvalidProof, i)
		}
		inputs[i] = v
	}
	if witness.Secret != "" && CommitSecret(witness.Secret, witness.Salt) != signals[domain.SignalPublicKey] {
		return nil, fmt.Errorf("%w: witness does not open the public key", domain.ErrInvalidProof)
	}
	return p.setup.Simulate(inputs, p.rand)
}
