package domain

// Proof is a zero-knowledge proof in the snarkjs JSON layout. Coordinates are decimal strings.
type Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	// Tampered is set by clients or tooling that detected local corruption. Such proofs never verify.
	Tampered bool `json:"tampered,omitempty"`
}

// Public signal positions shared by the login and reset circuits.
const (
	// SignalChallenge carries the per-attempt nonce on login and the new public key on reset.
	SignalChallenge = 0
	// SignalPublicKey binds the proof to the account's current public key.
	SignalPublicKey = 1
	// PublicSignalCount is the number of public inputs both circuits expose.
	PublicSignalCount = 2
)

// ProofStatement is the public part of what a proof attests to.
type ProofStatement struct {
	PublicSignals []string
}

// ProofWitness is the private input. It never leaves the process that generates the proof.
type ProofWitness struct {
	Secret string
	Salt   string
}
