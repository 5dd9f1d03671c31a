package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
	"github.com/arklim/zk-tenant-iam/internal/infra/zkp"
	"github.com/arklim/zk-tenant-iam/internal/repository/kv"
	"github.com/arklim/zk-tenant-iam/internal/repository/memory"
)

var testArgon2 = security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, KeyLength: 32}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu          sync.Mutex
	registered  []domain.UserRegisteredEvent
	resetReqs   []domain.PasswordResetRequestedEvent
	resetDone   []domain.PasswordResetConfirmedEvent
	roleChanges []domain.RoleChangedEvent
	assignments []domain.RoleAssignmentEvent
	audits      []domain.AuditEvent
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, e domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, e)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, e domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetReqs = append(p.resetReqs, e)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetConfirmed(_ context.Context, e domain.PasswordResetConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetDone = append(p.resetDone, e)
	return nil
}

func (p *recordingPublisher) PublishRoleChanged(_ context.Context, e domain.RoleChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleChanges = append(p.roleChanges, e)
	return nil
}

func (p *recordingPublisher) PublishRoleAssignment(_ context.Context, e domain.RoleAssignmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assignments = append(p.assignments, e)
	return nil
}

func (p *recordingPublisher) PublishAccessAudit(_ context.Context, e domain.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audits = append(p.audits, e)
	return nil
}

type testEnv struct {
	clock    *fakeClock
	store    *memory.Store
	users    *kv.UserRepository
	engine   *zkp.FallbackEngine
	limiter  *RateLimiter
	sessions *SessionService
	identity *IdentityService
	reset    *PasswordResetService
	rbac     *RBACService
	events   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	clock := newFakeClock()
	store := memory.NewStore().WithClock(clock.Now)

	engine, err := zkp.NewFallbackEngine(testArgon2, log)
	if err != nil {
		t.Fatalf("fallback engine: %v", err)
	}
	guarded := zkp.NewReplayGuardedEngine(engine, kv.NewReplayLedger(store), time.Hour, log)

	keys, err := security.NewEphemeralKeyProvider(2048)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	tokens := security.NewSessionTokenManager(keys, "zk-tenant-iam", []string{"zk-tenant-iam"}, time.Hour).WithClock(clock.Now)

	users := kv.NewUserRepository(store)
	events := &recordingPublisher{}
	limiter := NewRateLimiter(store, LockoutPolicy{StrikeMemory: 24 * time.Hour, MaxLockout: time.Hour}, log).WithClock(clock.Now)
	sessions := NewSessionService(tokens, kv.NewSessionRevocationStore(store), log).WithClock(clock.Now)

	identity := NewIdentityService(IdentityConfig{LoginMaxAttempts: 5, LoginWindow: 15 * time.Minute}, users, guarded, limiter, sessions, events, log).WithClock(clock.Now)
	reset := NewPasswordResetService(PasswordResetConfig{TokenTTL: 15 * time.Minute, MaxAttempts: 3, Window: 15 * time.Minute, RevokeOnReset: true},
		users, kv.NewResetTokenRepository(store).WithClock(clock.Now), guarded, limiter, sessions, events, log).WithClock(clock.Now)
	rbac := NewRBACService(kv.NewRoleRepository(store), kv.NewAssignmentRepository(store), users, events, log).WithClock(clock.Now)

	return &testEnv{
		clock:    clock,
		store:    store,
		users:    users,
		engine:   engine,
		limiter:  limiter,
		sessions: sessions,
		identity: identity,
		reset:    reset,
		rbac:     rbac,
		events:   events,
	}
}

// registerUser registers username with a client-side derived public key and returns the salt.
func (e *testEnv) registerUser(t *testing.T, username, secret string) *domain.UserCredential {
	t.Helper()
	salt, err := security.GenerateSalt(domain.SaltBytes)
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	publicKey, err := e.engine.DerivePublicKey(secret, salt)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	user, err := e.identity.Register(context.Background(), RegisterInput{Username: username, PublicKey: publicKey, Salt: salt})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user
}

// loginProof builds a login proof for a fresh nonce the way a client would.
func (e *testEnv) loginProof(t *testing.T, user *domain.UserCredential, secret string) (domain.Proof, []string) {
	t.Helper()
	nonce, err := security.GenerateSecureToken(16)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	signals := []string{nonce, user.PublicKey}
	proof, err := e.engine.GenerateProof(context.Background(), domain.ProofStatement{PublicSignals: signals}, domain.ProofWitness{Secret: secret, Salt: user.Salt})
	if err != nil {
		t.Fatalf("generate proof: %v", err)
	}
	return *proof, signals
}
