package zkp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
	"github.com/arklim/zk-tenant-iam/internal/repository/kv"
	"github.com/arklim/zk-tenant-iam/internal/repository/memory"
)

const testSalt = "00112233445566778899aabbccddeeff"

func newTestEngine(t *testing.T) (*Groth16Engine, *TrapdoorProver) {
	t.Helper()
	setup, err := NewTrapdoorSetup(domain.PublicSignalCount, nil)
	require.NoError(t, err)
	prover := NewTrapdoorProver(setup)
	engine := NewGroth16Engine(setup.Key, zaptest.NewLogger(t)).WithProver(prover)
	return engine, prover
}

func prove(t *testing.T, engine *Groth16Engine, nonce, publicKey string) domain.Proof {
	t.Helper()
	proof, err := engine.GenerateProof(context.Background(),
		domain.ProofStatement{PublicSignals: []string{nonce, publicKey}},
		domain.ProofWitness{Secret: "hunter2", Salt: testSalt})
	require.NoError(t, err)
	return *proof
}

func TestGroth16Engine_AcceptsValidProof(t *testing.T) {
	engine, _ := newTestEngine(t)
	publicKey := CommitSecret("hunter2", testSalt)
	require.NoError(t, engine.ValidatePublicKey(publicKey))

	proof := prove(t, engine, "12345", publicKey)
	ok, err := engine.VerifyProof(context.Background(), proof, []string{"12345", publicKey}, publicKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGroth16Engine_RejectsInvalidProofs(t *testing.T) {
	engine, _ := newTestEngine(t)
	publicKey := CommitSecret("hunter2", testSalt)
	proof := prove(t, engine, "777", publicKey)
	signals := []string{"777", publicKey}

	tampered := proof
	tampered.Tampered = true

	swapped := proof
	swapped.PiA, swapped.PiC = proof.PiC, proof.PiA

	offCurve := proof
	offCurve.PiA = []string{"1", "3", "1"}

	wrongProtocol := proof
	wrongProtocol.Protocol = "plonk"

	short := proof
	short.PiB = proof.PiB[:2]

	cases := []struct {
		name      string
		proof     domain.Proof
		signals   []string
		publicKey string
	}{
		{"tampered marker", tampered, signals, publicKey},
		{"swapped points", swapped, signals, publicKey},
		{"point off curve", offCurve, signals, publicKey},
		{"wrong protocol", wrongProtocol, signals, publicKey},
		{"truncated pi_b", short, signals, publicKey},
		{"altered challenge", proof, []string{"778", publicKey}, publicKey},
		{"sentinel zero challenge", proof, []string{"0", publicKey}, publicKey},
		{"empty challenge", proof, []string{"", publicKey}, publicKey},
		{"binding mismatch", proof, signals, CommitSecret("other", testSalt)},
		{"missing signal", proof, signals[:1], publicKey},
		{"non canonical signal", proof, []string{"0777", publicKey}, publicKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := engine.VerifyProof(context.Background(), tc.proof, tc.signals, tc.publicKey)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestGroth16Engine_MissingKeyIsConfigurationError(t *testing.T) {
	engine := NewGroth16Engine(nil, nil)
	_, err := engine.VerifyProof(context.Background(), domain.Proof{}, []string{"1", "2"}, "2")
	require.ErrorIs(t, err, domain.ErrProofEngineConfiguration)

	_, err = engine.GenerateProof(context.Background(), domain.ProofStatement{}, domain.ProofWitness{})
	require.ErrorIs(t, err, domain.ErrProverUnavailable)
}

func TestTrapdoorProver_RefusesWrongWitness(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.GenerateProof(context.Background(),
		domain.ProofStatement{PublicSignals: []string{"5", CommitSecret("hunter2", testSalt)}},
		domain.ProofWitness{Secret: "wrong", Salt: testSalt})
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestVerifyingKey_SnarkjsLayoutRoundTrip(t *testing.T) {
	setup, err := NewTrapdoorSetup(domain.PublicSignalCount, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(setup.Key)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"protocol":"groth16"`)
	require.Contains(t, string(raw), `"vk_alpha_1"`)

	parsed, err := ParseVerifyingKey(raw)
	require.NoError(t, err)
	require.Equal(t, domain.PublicSignalCount, parsed.NPublic())

	trapdoorRaw, err := json.Marshal(setup)
	require.NoError(t, err)
	restored, err := ParseTrapdoorSetup(trapdoorRaw)
	require.NoError(t, err)

	publicKey := CommitSecret("s", testSalt)
	proof, err := NewTrapdoorProver(restored).Prove(context.Background(),
		domain.ProofStatement{PublicSignals: []string{"9", publicKey}}, domain.ProofWitness{})
	require.NoError(t, err)

	ok, err := NewGroth16Engine(parsed, nil).VerifyProof(context.Background(), *proof, []string{"9", publicKey}, publicKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestParseVerifyingKey_AcceptsIdentityInIC(t *testing.T) {
	setup, err := NewTrapdoorSetup(domain.PublicSignalCount, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(setup.Key)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	ic := doc["IC"].([]any)
	ic[1] = []string{"0", "1", "0"}
	patched, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed, err := ParseVerifyingKey(patched)
	require.NoError(t, err)
	require.True(t, parsed.IC[1].IsInfinity())

	again, err := json.Marshal(parsed)
	require.NoError(t, err)
	require.Contains(t, string(again), `["0","1","0"]`)

	doc["vk_alpha_1"] = []string{"0", "1", "0"}
	patched, err = json.Marshal(doc)
	require.NoError(t, err)
	_, err = ParseVerifyingKey(patched)
	require.ErrorIs(t, err, domain.ErrProofEngineConfiguration, "only IC entries may be the identity")
}

func TestParseVerifyingKey_RejectsGarbage(t *testing.T) {
	_, err := ParseVerifyingKey([]byte(`{"protocol":"groth16","curve":"bn128","IC":[["1","2","1"]]}`))
	require.ErrorIs(t, err, domain.ErrProofEngineConfiguration)

	_, err = ParseVerifyingKey([]byte(`{"protocol":"plonk"}`))
	require.ErrorIs(t, err, domain.ErrProofEngineConfiguration)
}

func TestReplayGuardedEngine_SecondUseFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	guarded := NewReplayGuardedEngine(engine, kv.NewReplayLedger(memory.NewStore()), time.Hour, zaptest.NewLogger(t))

	publicKey := CommitSecret("hunter2", testSalt)
	proof := prove(t, engine, "4242", publicKey)
	signals := []string{"4242", publicKey}

	ok, err := guarded.VerifyProof(context.Background(), proof, signals, publicKey)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = guarded.VerifyProof(context.Background(), proof, signals, publicKey)
	require.NoError(t, err)
	require.False(t, ok, "replayed proof must not verify")
}

func TestReplayGuardedEngine_InvalidProofDoesNotBurnChallenge(t *testing.T) {
	engine, _ := newTestEngine(t)
	guarded := NewReplayGuardedEngine(engine, kv.NewReplayLedger(memory.NewStore()), time.Hour, nil)

	publicKey := CommitSecret("hunter2", testSalt)
	proof := prove(t, engine, "99", publicKey)
	bad := proof
	bad.Tampered = true

	ok, err := guarded.VerifyProof(context.Background(), bad, []string{"99", publicKey}, publicKey)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = guarded.VerifyProof(context.Background(), proof, []string{"99", publicKey}, publicKey)
	require.NoError(t, err)
	require.True(t, ok)
}

type countingObserver struct {
	calls int
	valid bool
}

func (o *countingObserver) ObserveProofVerification(engine string, valid bool, err error, elapsed time.Duration) {
	o.calls++
	o.valid = valid
}

func TestPooledEngine_HonoursContext(t *testing.T) {
	engine, _ := newTestEngine(t)
	observer := &countingObserver{}
	pooled := NewPooledEngine(engine, 1).WithObserver(observer)

	publicKey := CommitSecret("hunter2", testSalt)
	proof := prove(t, engine, "31337", publicKey)

	ok, err := pooled.VerifyProof(context.Background(), proof, []string{"31337", publicKey}, publicKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, observer.calls)
	require.True(t, observer.valid)

	require.NoError(t, pooled.sem.Acquire(context.Background(), 1))
	defer pooled.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pooled.VerifyProof(ctx, proof, []string{"31337", publicKey}, publicKey)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFallbackEngine_GenerateAndVerify(t *testing.T) {
	engine, err := NewFallbackEngine(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, KeyLength: 32}, zaptest.NewLogger(t))
	require.NoError(t, err)

	publicKey, err := engine.DerivePublicKey("hunter2", testSalt)
	require.NoError(t, err)
	require.NoError(t, engine.ValidatePublicKey(publicKey))

	signals := []string{"nonce-1", publicKey}
	proof, err := engine.GenerateProof(context.Background(), domain.ProofStatement{PublicSignals: signals}, domain.ProofWitness{Secret: "hunter2", Salt: testSalt})
	require.NoError(t, err)

	ok, err := engine.VerifyProof(context.Background(), *proof, signals, publicKey)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = engine.VerifyProof(context.Background(), *proof, []string{"nonce-2", publicKey}, publicKey)
	require.False(t, ok)

	_, err = engine.GenerateProof(context.Background(), domain.ProofStatement{PublicSignals: signals}, domain.ProofWitness{Secret: "wrong", Salt: testSalt})
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	blob, ok := m[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return blob, nil
}

func TestLoadArtifacts_LocalAndS3(t *testing.T) {
	setup, err := NewTrapdoorSetup(domain.PublicSignalCount, nil)
	require.NoError(t, err)
	vkRaw, err := json.Marshal(setup.Key)
	require.NoError(t, err)

	dir := t.TempDir()
	vkPath := filepath.Join(dir, ArtifactVerificationKey)
	require.NoError(t, os.WriteFile(vkPath, vkRaw, 0o600))
	wasmPath := filepath.Join(dir, ArtifactCircuit)
	require.NoError(t, os.WriteFile(wasmPath, []byte("\x00asm"), 0o600))

	fetcher := mapFetcher{"artifacts/login/circuit_final.zkey": []byte("zkey")}
	paths := ArtifactPaths{Circuit: wasmPath, ProvingKey: "s3://artifacts/login/circuit_final.zkey", VerificationKey: vkPath}
	require.True(t, paths.NeedsS3())

	artifacts, err := LoadArtifacts(context.Background(), paths, fetcher, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, artifacts.Key)

	blob, ok := artifacts.Get(ArtifactProvingKey)
	require.True(t, ok)
	require.Equal(t, "zkey", string(blob))
	require.Equal(t, "application/wasm", ContentType(ArtifactCircuit))
}

func TestLoadArtifacts_MissingIsFatal(t *testing.T) {
	_, err := LoadArtifacts(context.Background(), ArtifactPaths{Circuit: "/nonexistent/circuit.wasm"}, nil, nil)
	require.ErrorIs(t, err, domain.ErrProofEngineConfiguration)
}
