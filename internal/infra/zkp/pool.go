package zkp

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// ProofObserver receives verification latency and outcome.
type ProofObserver interface {
	ObserveProofVerification(engine string, valid bool, err error, elapsed time.Duration)
}

// PooledEngine bounds concurrent proof work so pairing checks cannot starve request handling.
type PooledEngine struct {
	inner    port.ProofEngine
	sem      *semaphore.Weighted
	observer ProofObserver
}

var _ port.ProofEngine = (*PooledEngine)(nil)

// NewPooledEngine wraps inner with at most workers concurrent operations. Non-positive
// workers defaults to GOMAXPROCS.
func NewPooledEngine(inner port.ProofEngine, workers int) *PooledEngine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &PooledEngine{inner: inner, sem: semaphore.NewWeighted(int64(workers))}
}

// WithObserver attaches a metrics observer.
func (p *PooledEngine) WithObserver(observer ProofObserver) *PooledEngine {
	p.observer = observer
	return p
}

func (p *PooledEngine) Name() string {
	return p.inner.Name()
}

func (p *PooledEngine) ValidatePublicKey(publicKey string) error {
	return p.inner.ValidatePublicKey(publicKey)
}

// VerifyProof waits for a worker slot or the context, whichever comes first.
func (p *PooledEngine) VerifyProof(ctx context.Context, proof domain.Proof, publicSignals []string, verifyingMaterial string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire proof worker: %w", err)
	}
	defer p.sem.Release(1)

	start := time.Now()
	ok, err := p.inner.VerifyProof(ctx, proof, publicSignals, verifyingMaterial)
	if p.observer != nil {
		p.observer.ObserveProofVerification(p.inner.Name(), ok, err, time.Since(start))
	}
	return ok, err
}

// GenerateProof runs under the same bound as verification.
func (p *PooledEngine) GenerateProof(ctx context.Context, statement domain.ProofStatement, witness domain.ProofWitness) (*domain.Proof, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire proof worker: %w", err)
	}
	defer p.sem.Release(1)
	return p.inner.GenerateProof(ctx, statement, witness)
}
