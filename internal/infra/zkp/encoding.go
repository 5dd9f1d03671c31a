package zkp

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var (
	baseModulus   = fp.Modulus()
	scalarModulus = fr.Modulus()
)

// parseDecimal accepts canonical unsigned decimal integers strictly below modulus.
func parseDecimal(raw string, modulus *big.Int) (*big.Int, bool) {
	if raw == "" || len(raw) > 80 {
		return nil, false
	}
	if len(raw) > 1 && raw[0] == '0' {
		return nil, false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return nil, false
		}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Cmp(modulus) >= 0 {
		return nil, false
	}
	return v, true
}

// ParseScalar parses a public signal or public key as an element of the BN254 scalar field.
func ParseScalar(raw string) (*big.Int, bool) {
	return parseDecimal(raw, scalarModulus)
}

func parseBase(raw string, dst *fp.Element) bool {
	v, ok := parseDecimal(raw, baseModulus)
	if !ok {
		return false
	}
	dst.SetBigInt(v)
	return true
}

// parseICPoint is parseG1 that also accepts the identity, which snarkjs writes as ["0", "1", "0"]
// for public inputs no constraint uses.
func parseICPoint(coords []string) (bn254.G1Affine, bool) {
	if len(coords) == 3 && coords[0] == "0" && coords[1] == "1" && coords[2] == "0" {
		return bn254.G1Affine{}, true
	}
	return parseG1(coords)
}

// parseG1 reads an affine point in projective snarkjs form [x, y, "1"]. The identity is rejected.
func parseG1(coords []string) (bn254.G1Affine, bool) {
	var p bn254.G1Affine
	if len(coords) != 3 || coords[2] != "1" {
		return p, false
	}
	if !parseBase(coords[0], &p.X) || !parseBase(coords[1], &p.Y) {
		return p, false
	}
	if p.IsInfinity() || !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, false
	}
	return p, true
}

// parseG2 reads [[x0, x1], [y0, y1], ["1", "0"]].
func parseG2(coords [][]string) (bn254.G2Affine, bool) {
	var p bn254.G2Affine
	if len(coords) != 3 {
		return p, false
	}
	for _, pair := range coords {
		if len(pair) != 2 {
			return p, false
		}
	}
	if coords[2][0] != "1" || coords[2][1] != "0" {
		return p, false
	}
	if !parseBase(coords[0][0], &p.X.A0) || !parseBase(coords[0][1], &p.X.A1) ||
		!parseBase(coords[1][0], &p.Y.A0) || !parseBase(coords[1][1], &p.Y.A1) {
		return p, false
	}
	if p.IsInfinity() || !p.IsOnCurve() || !p.IsInSubGroup() {
		return p, false
	}
	return p, true
}

func fpString(e *fp.Element) string {
	return e.BigInt(new(big.Int)).String()
}

func formatG1(p *bn254.G1Affine) []string {
	if p.IsInfinity() {
		return []string{"0", "1", "0"}
	}
	return []string{fpString(&p.X), fpString(&p.Y), "1"}
}

func formatG2(p *bn254.G2Affine) [][]string {
	return [][]string{
		{fpString(&p.X.A0), fpString(&p.X.A1)},
		{fpString(&p.Y.A0), fpString(&p.Y.A1)},
		{"1", "0"},
	}
}
