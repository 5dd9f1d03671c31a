package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/repository/kv"
)

// midVerifyEngine runs during once, after the wrapped engine has checked the proof.
type midVerifyEngine struct {
	port.ProofEngine
	during func()
}

func (e *midVerifyEngine) VerifyProof(ctx context.Context, proof domain.Proof, signals []string, material string) (bool, error) {
	ok, err := e.ProofEngine.VerifyProof(ctx, proof, signals, material)
	if f := e.during; f != nil {
		e.during = nil
		f()
	}
	return ok, err
}

// hookedAssignments lets a test run code at the points where role deletion and assignment
// can interleave.
type hookedAssignments struct {
	port.AssignmentRepository
	beforeAssign func()
	afterCount   func()
}

func (h *hookedAssignments) Assign(ctx context.Context, a domain.RoleAssignment) error {
	if f := h.beforeAssign; f != nil {
		h.beforeAssign = nil
		f()
	}
	return h.AssignmentRepository.Assign(ctx, a)
}

func (h *hookedAssignments) CountByRole(ctx context.Context, roleID string) (int, error) {
	n, err := h.AssignmentRepository.CountByRole(ctx, roleID)
	if f := h.afterCount; f != nil {
		h.afterCount = nil
		f()
	}
	return n, err
}

func (e *testEnv) identityWith(t *testing.T, engine port.ProofEngine) *IdentityService {
	t.Helper()
	return NewIdentityService(IdentityConfig{LoginMaxAttempts: 5, LoginWindow: 15 * time.Minute}, e.users, engine, e.limiter, e.sessions, e.events, zaptest.NewLogger(t)).WithClock(e.clock.Now)
}

func TestVerifyLoginKeepsLockAppliedDuringVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "carol", "correct horse")

	engine := &midVerifyEngine{ProofEngine: env.engine}
	engine.during = func() {
		if _, err := env.identity.SetLocked(ctx, "carol", true); err != nil {
			t.Errorf("lock: %v", err)
		}
	}
	identity := env.identityWith(t, engine)

	proof, signals := env.loginProof(t, user, "correct horse")
	if _, err := identity.VerifyLogin(ctx, LoginInput{Username: "carol", Proof: proof, PublicSignals: signals}); !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	stored, _ := env.users.GetByUsername(ctx, "carol")
	if !stored.Locked {
		t.Fatal("administrative lock was undone by the login")
	}
	if stored.LastLoginAt != nil {
		t.Fatal("rejected login must not be recorded")
	}
}

func TestVerifyLoginRejectsKeyReplacedDuringVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "carol", "correct horse")
	replacement, err := env.engine.DerivePublicKey("new secret", user.Salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	engine := &midVerifyEngine{ProofEngine: env.engine}
	engine.during = func() {
		if _, err := env.users.Mutate(ctx, "carol", func(u *domain.UserCredential) error {
			u.PublicKey = replacement
			return nil
		}); err != nil {
			t.Errorf("replace key: %v", err)
		}
	}
	identity := env.identityWith(t, engine)

	proof, signals := env.loginProof(t, user, "correct horse")
	if _, err := identity.VerifyLogin(ctx, LoginInput{Username: "carol", Proof: proof, PublicSignals: signals}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("login with the replaced key must fail, got %v", err)
	}
	stored, _ := env.users.GetByUsername(ctx, "carol")
	if stored.PublicKey != replacement {
		t.Fatal("the replacement key was overwritten")
	}
}

func TestPasswordResetRefusesKeyChangedDuringVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "dana", "old secret")
	concurrent, err := env.engine.DerivePublicKey("concurrent secret", user.Salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	newKey, err := env.engine.DerivePublicKey("new secret", user.Salt)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	engine := &midVerifyEngine{ProofEngine: env.engine}
	reset := NewPasswordResetService(PasswordResetConfig{TokenTTL: 15 * time.Minute, MaxAttempts: 3, Window: 15 * time.Minute, RevokeOnReset: true},
		env.users, kv.NewResetTokenRepository(env.store).WithClock(env.clock.Now), engine, env.limiter, env.sessions, env.events, zaptest.NewLogger(t)).WithClock(env.clock.Now)

	ticket, err := reset.RequestPasswordReset(ctx, "dana", "")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	engine.during = func() {
		if _, err := env.users.Mutate(ctx, "dana", func(u *domain.UserCredential) error {
			u.PublicKey = concurrent
			return nil
		}); err != nil {
			t.Errorf("concurrent key change: %v", err)
		}
	}
	proof, signals := env.resetProof(t, user, "old secret", newKey)
	err = reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: ticket.Token, Username: "dana", Proof: proof, PublicSignals: signals})
	if !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected the reset to be refused, got %v", err)
	}
	stored, _ := env.users.GetByUsername(ctx, "dana")
	if stored.PublicKey != concurrent {
		t.Fatal("reset overwrote a key it never proved knowledge of")
	}
}

func (e *testEnv) rbacWith(t *testing.T, assignments port.AssignmentRepository) *RBACService {
	t.Helper()
	return NewRBACService(kv.NewRoleRepository(e.store), assignments, e.users, e.events, zaptest.NewLogger(t)).WithClock(e.clock.Now)
}

func TestAssignRoleBacksOutWhenRoleDeletedMidway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "erin", "secret")
	assignments := &hookedAssignments{AssignmentRepository: kv.NewAssignmentRepository(env.store)}
	rbac := env.rbacWith(t, assignments)
	admin := Actor{UserID: "admin"}

	role, err := rbac.CreateRole(ctx, admin, RoleSpec{
		Name:       "Temp",
		TenantID:   "acme",
		ACLEntries: []domain.ACLEntry{{ResourceType: domain.ResourceMedia, Action: domain.ActionRead}},
	})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	// The delete counts zero holders and completes before the binding is written.
	assignments.beforeAssign = func() {
		if err := rbac.DeleteRole(ctx, admin, "acme", role.ID); err != nil {
			t.Errorf("delete: %v", err)
		}
	}
	if _, err := rbac.AssignRole(ctx, admin, "acme", AssignmentInput{UserID: user.ID, RoleID: role.ID}); !errors.Is(err, domain.ErrRoleNotFound) {
		t.Fatalf("expected role not found, got %v", err)
	}
	left, _ := assignments.ListByUser(ctx, user.ID)
	if len(left) != 0 {
		t.Fatalf("binding to a deleted role survived: %+v", left)
	}
}

func TestAssignRoleRefusedWhileDeleteInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "erin", "secret")
	assignments := &hookedAssignments{AssignmentRepository: kv.NewAssignmentRepository(env.store)}
	rbac := env.rbacWith(t, assignments)
	admin := Actor{UserID: "admin"}

	role, err := rbac.CreateRole(ctx, admin, RoleSpec{
		Name:       "Temp",
		TenantID:   "acme",
		ACLEntries: []domain.ACLEntry{{ResourceType: domain.ResourceMedia, Action: domain.ActionRead}},
	})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	var assignErr error
	assignments.afterCount = func() {
		_, assignErr = rbac.AssignRole(ctx, admin, "acme", AssignmentInput{UserID: user.ID, RoleID: role.ID})
	}
	if err := rbac.DeleteRole(ctx, admin, "acme", role.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !errors.Is(assignErr, domain.ErrRoleDeleting) {
		t.Fatalf("expected assignment to be refused during the delete, got %v", assignErr)
	}
	left, _ := assignments.ListByUser(ctx, user.ID)
	if len(left) != 0 {
		t.Fatalf("binding to a deleted role survived: %+v", left)
	}
	if deleting, _ := kv.NewRoleRepository(env.store).IsDeleting(ctx, role.ID); deleting {
		t.Fatal("deletion marker must be released")
	}
}
