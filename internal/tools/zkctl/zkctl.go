// Package zkctl implements local tooling for the groth16 engine: a trapdoor setup that produces
// loadable artifacts, and a prover that simulates login proofs against it. Never use its output
// in production; anyone holding the trapdoor can forge proofs for any account.
package zkctl

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
	"github.com/arklim/zk-tenant-iam/internal/infra/zkp"
)

const (
	CommandSetup  = "setup"
	CommandPubKey = "pubkey"
	CommandProve  = "prove"

	trapdoorFile = "trapdoor.json"
)

// emptyWasmModule is the smallest valid WebAssembly binary. It stands in for the compiled circuit.
var emptyWasmModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Config holds the parsed command line.
type Config struct {
	Command  string
	Dir      string
	Trapdoor string
	Secret   string
	Salt     string
	Nonce    string
}

// ParseConfig parses "<command> [flags]".
func ParseConfig(args []string) (Config, error) {
	if len(args) == 0 {
		return Config{}, errors.New("usage: zkctl <setup|pubkey|prove> [flags]")
	}
	cfg := Config{Command: args[0], Dir: "./artifacts"}
	fs := flag.NewFlagSet("zkctl "+cfg.Command, flag.ContinueOnError)
	switch cfg.Command {
	case CommandSetup:
		fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "directory receiving the artifacts and the trapdoor")
	case CommandPubKey:
		fs.StringVar(&cfg.Secret, "secret", "", "account secret")
		fs.StringVar(&cfg.Salt, "salt", "", "hex salt; generated when empty")
	case CommandProve:
		fs.StringVar(&cfg.Trapdoor, "trapdoor", filepath.Join(cfg.Dir, trapdoorFile), "trapdoor written by setup")
		fs.StringVar(&cfg.Secret, "secret", "", "account secret")
		fs.StringVar(&cfg.Salt, "salt", "", "hex salt returned by the salt endpoint")
		fs.StringVar(&cfg.Nonce, "nonce", "", "decimal nonce; random when empty")
	default:
		return Config{}, fmt.Errorf("unknown command %q", cfg.Command)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes cfg and writes its result to out.
func Run(cfg Config, out io.Writer, rnd io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	switch cfg.Command {
	case CommandSetup:
		return runSetup(cfg, out, rnd)
	case CommandPubKey:
		return runPubKey(cfg, out)
	case CommandProve:
		return runProve(cfg, out, rnd)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func runSetup(cfg Config, out io.Writer, rnd io.Reader) error {
	setup, err := zkp.NewTrapdoorSetup(domain.PublicSignalCount, rnd)
	if err != nil {
		return err
	}
	vk, err := json.MarshalIndent(setup.Key, "", "  ")
	if err != nil {
		return fmt.Errorf("encode verification key: %w", err)
	}
	trapdoor, err := json.Marshal(setup)
	if err != nil {
		return fmt.Errorf("encode trapdoor: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", cfg.Dir, err)
	}
	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{zkp.ArtifactVerificationKey, vk, 0o644},
		{zkp.ArtifactCircuit, emptyWasmModule, 0o644},
		// The simulated circuit has no proving key; the trapdoor plays that role.
		{zkp.ArtifactProvingKey, trapdoor, 0o600},
		{trapdoorFile, trapdoor, 0o600},
	}
	for _, f := range files {
		path := filepath.Join(cfg.Dir, f.name)
		if err := os.WriteFile(path, f.data, f.mode); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

func runPubKey(cfg Config, out io.Writer) error {
	if cfg.Secret == "" {
		return errors.New("secret is required")
	}
	salt := strings.ToLower(strings.TrimSpace(cfg.Salt))
	if salt == "" {
		var err error
		if salt, err = security.GenerateSalt(domain.SaltBytes); err != nil {
			return err
		}
	}
	if err := domain.ValidateSalt(salt); err != nil {
		return err
	}
	return writeJSON(out, map[string]string{
		"salt":       salt,
		"public_key": zkp.CommitSecret(cfg.Secret, salt),
	})
}

// LoginProof is the body accepted by the verify endpoint, minus the username.
type LoginProof struct {
	Proof         domain.Proof `json:"proof"`
	PublicSignals []string     `json:"publicSignals"`
}

func runProve(cfg Config, out io.Writer, rnd io.Reader) error {
	if cfg.Secret == "" || cfg.Salt == "" {
		return errors.New("secret and salt are required")
	}
	raw, err := os.ReadFile(cfg.Trapdoor)
	if err != nil {
		return fmt.Errorf("read trapdoor: %w", err)
	}
	setup, err := zkp.ParseTrapdoorSetup(raw)
	if err != nil {
		return err
	}

	nonce := strings.TrimSpace(cfg.Nonce)
	if nonce == "" {
		// 248 bits stays below the BN254 scalar modulus.
		n, err := rand.Int(rnd, new(big.Int).Lsh(big.NewInt(1), 248))
		if err != nil {
			return fmt.Errorf("generate nonce: %w", err)
		}
		nonce = n.String()
	}
	salt := strings.ToLower(strings.TrimSpace(cfg.Salt))
	signals := make([]string, domain.PublicSignalCount)
	signals[domain.SignalChallenge] = nonce
	signals[domain.SignalPublicKey] = zkp.CommitSecret(cfg.Secret, salt)

	prover := zkp.NewTrapdoorProver(setup)
	proof, err := prover.Prove(context.Background(), domain.ProofStatement{PublicSignals: signals}, domain.ProofWitness{Secret: cfg.Secret, Salt: salt})
	if err != nil {
		return err
	}
	return writeJSON(out, LoginProof{Proof: *proof, PublicSignals: signals})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
