package zkp

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

const (
	protocolGroth16 = "groth16"
	curveBN128      = "bn128"
)

// VerifyingKey is a Groth16 verification key over BN254.
type VerifyingKey struct {
	Alpha1 bn254.G1Affine
	Beta2  bn254.G2Affine
	Gamma2 bn254.G2Affine
	Delta2 bn254.G2Affine
	IC     []bn254.G1Affine
}

type verificationKeyJSON struct {
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	NPublic  int        `json:"nPublic"`
	Alpha1   []string   `json:"vk_alpha_1"`
	Beta2    [][]string `json:"vk_beta_2"`
	Gamma2   [][]string `json:"vk_gamma_2"`
	Delta2   [][]string `json:"vk_delta_2"`
	IC       [][]string `json:"IC"`
}

// NPublic is the number of public signals the key accepts.
func (vk *VerifyingKey) NPublic() int {
	return len(vk.IC) - 1
}

// ParseVerifyingKey decodes a snarkjs verification_key.json document.
func ParseVerifyingKey(raw []byte) (*VerifyingKey, error) {
	var doc verificationKeyJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode verification key: %v", domain.ErrProofEngineConfiguration, err)
	}
	if !strings.EqualFold(doc.Protocol, protocolGroth16) {
		return nil, fmt.Errorf("%w: unsupported protocol %q", domain.ErrProofEngineConfiguration, doc.Protocol)
	}
	if !isBN254(doc.Curve) {
		return nil, fmt.Errorf("%w: unsupported curve %q", domain.ErrProofEngineConfiguration, doc.Curve)
	}
	if len(doc.IC) < 1 || (doc.NPublic != 0 && doc.NPublic != len(doc.IC)-1) {
		return nil, fmt.Errorf("%w: IC length does not match nPublic", domain.ErrProofEngineConfiguration)
	}

	vk := &VerifyingKey{IC: make([]bn254.G1Affine, len(doc.IC))}
	var ok bool
	if vk.Alpha1, ok = parseG1(doc.Alpha1); !ok {
		return nil, fmt.Errorf("%w: invalid vk_alpha_1", domain.ErrProofEngineConfiguration)
	}
	if vk.Beta2, ok = parseG2(doc.Beta2); !ok {
		return nil, fmt.Errorf("%w: invalid vk_beta_2", domain.ErrProofEngineConfiguration)
	}
	if vk.Gamma2, ok = parseG2(doc.Gamma2); !ok {
		return nil, fmt.Errorf("%w: invalid vk_gamma_2", domain.ErrProofEngineConfiguration)
	}
	if vk.Delta2, ok = parseG2(doc.Delta2); !ok {
		return nil, fmt.Errorf("%w: invalid vk_delta_2", domain.ErrProofEngineConfiguration)
	}
	for i, point := range doc.IC {
		if vk.IC[i], ok = parseICPoint(point); !ok {
			return nil, fmt.Errorf("%w: invalid IC[%d]", domain.ErrProofEngineConfiguration, i)
		}
	}
	return vk, nil
}

// MarshalJSON renders the key in snarkjs layout.
func (vk *VerifyingKey) MarshalJSON() ([]byte, error) {
	doc := verificationKeyJSON{
		Protocol: protocolGroth16,
		Curve:    curveBN128,
		NPublic:  vk.NPublic(),
		Alpha1:   formatG1(&vk.Alpha1),
		Beta2:    formatG2(&vk.Beta2),
		Gamma2:   formatG2(&vk.Gamma2),
		Delta2:   formatG2(&vk.Delta2),
		IC:       make([][]string, len(vk.IC)),
	}
	for i := range vk.IC {
		doc.IC[i] = formatG1(&vk.IC[i])
	}
	return json.Marshal(doc)
}

// verify runs the Groth16 pairing check
// e(-A, B) * e(alpha, beta) * e(vk_x, gamma) * e(C, delta) == 1.
func (vk *VerifyingKey) verify(a bn254.G1Affine, b bn254.G2Affine, c bn254.G1Affine, inputs []*big.Int) (bool, error) {
	var acc bn254.G1Jac
	acc.FromAffine(&vk.IC[0])
	for i, s := range inputs {
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], s)
		acc.AddMixed(&term)
	}
	var vkX bn254.G1Affine
	vkX.FromJacobian(&acc)

	var negA bn254.G1Affine
	negA.Neg(&a)

	return bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha1, vkX, c},
		[]bn254.G2Affine{b, vk.Beta2, vk.Gamma2, vk.Delta2},
	)
}

func isBN254(curve string) bool {
	switch strings.ToLower(curve) {
	case curveBN128, "bn254", "alt_bn128":
		return true
	default:
		return false
	}
}
