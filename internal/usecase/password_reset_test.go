package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
)

func (e *testEnv) resetProof(t *testing.T, user *domain.UserCredential, oldSecret, newKey string) (domain.Proof, []string) {
	t.Helper()
	signals := []string{newKey, user.PublicKey}
	proof, err := e.engine.GenerateProof(context.Background(), domain.ProofStatement{PublicSignals: signals}, domain.ProofWitness{Secret: oldSecret, Salt: user.Salt})
	if err != nil {
		t.Fatalf("generate reset proof: %v", err)
	}
	return *proof, signals
}

func TestPasswordResetReplacesPublicKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "alice", "old secret")

	proof, signals := env.loginProof(t, user, "old secret")
	session, err := env.identity.VerifyLogin(ctx, LoginInput{Username: "alice", Proof: proof, PublicSignals: signals})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(time.Minute)

	ticket, err := env.reset.RequestPasswordReset(ctx, "alice", "203.0.113.9")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(env.events.resetReqs) != 1 || env.events.resetReqs[0].Token != ticket.Token {
		t.Fatalf("expected reset event carrying the token, got %+v", env.events.resetReqs)
	}

	newKey, err := env.engine.DerivePublicKey("new secret", user.Salt)
	if err != nil {
		t.Fatalf("derive new key: %v", err)
	}
	resetProof, resetSignals := env.resetProof(t, user, "old secret", newKey)
	err = env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: ticket.Token, Username: "alice", Proof: resetProof, PublicSignals: resetSignals})
	if err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	stored, _ := env.users.GetByUsername(ctx, "alice")
	if stored.PublicKey != newKey {
		t.Fatal("public key was not replaced")
	}
	if _, err := env.sessions.Validate(ctx, session.Token); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("expected earlier session to be revoked, got %v", err)
	}

	oldProof, oldSignals := env.loginProof(t, user, "old secret")
	if _, err := env.identity.VerifyLogin(ctx, LoginInput{Username: "alice", Proof: oldProof, PublicSignals: oldSignals}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("old secret must stop working, got %v", err)
	}
	newProof, newSignals := env.loginProof(t, stored, "new secret")
	fresh, err := env.identity.VerifyLogin(ctx, LoginInput{Username: "alice", Proof: newProof, PublicSignals: newSignals})
	if err != nil {
		t.Fatalf("login with new secret: %v", err)
	}
	if _, err := env.sessions.Validate(ctx, fresh.Token); err != nil {
		t.Fatalf("session issued after reset must be valid, got %v", err)
	}

	if len(env.events.resetDone) != 1 || !env.events.resetDone[0].SessionsRevoked {
		t.Fatalf("unexpected confirmation events %+v", env.events.resetDone)
	}
}

func TestPasswordResetTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "alice", "old secret")
	ticket, _ := env.reset.RequestPasswordReset(ctx, "alice", "")

	newKey, _ := env.engine.DerivePublicKey("new secret", user.Salt)
	proof, signals := env.resetProof(t, user, "old secret", newKey)
	input := ResetConfirmInput{Token: ticket.Token, Username: "alice", Proof: proof, PublicSignals: signals}
	if err := env.reset.ConfirmPasswordReset(ctx, input); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := env.reset.ConfirmPasswordReset(ctx, input); !errors.Is(err, domain.ErrResetTokenInvalid) {
		t.Fatalf("expected spent token to be rejected, got %v", err)
	}
}

func TestPasswordResetRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "alice", "old secret")
	env.registerUser(t, "bob", "bob secret")
	newKey, _ := env.engine.DerivePublicKey("new secret", user.Salt)

	t.Run("expired", func(t *testing.T) {
		ticket, _ := env.reset.RequestPasswordReset(ctx, "alice", "")
		env.clock.Advance(16 * time.Minute)
		proof, signals := env.resetProof(t, user, "old secret", newKey)
		err := env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: ticket.Token, Username: "alice", Proof: proof, PublicSignals: signals})
		if !errors.Is(err, domain.ErrResetTokenInvalid) {
			t.Fatalf("expected expired token rejection, got %v", err)
		}
	})

	t.Run("username mismatch", func(t *testing.T) {
		ticket, _ := env.reset.RequestPasswordReset(ctx, "alice", "")
		proof, signals := env.resetProof(t, user, "old secret", newKey)
		err := env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: ticket.Token, Username: "bob", Proof: proof, PublicSignals: signals})
		if !errors.Is(err, domain.ErrResetTokenInvalid) {
			t.Fatalf("expected mismatch rejection, got %v", err)
		}
	})

	t.Run("bad proof", func(t *testing.T) {
		ticket, _ := env.reset.RequestPasswordReset(ctx, "alice", "")
		proof, signals := env.resetProof(t, user, "old secret", newKey)
		proof.Tampered = true
		err := env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: ticket.Token, Username: "alice", Proof: proof, PublicSignals: signals})
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
		stored, _ := env.users.GetByUsername(ctx, "alice")
		if stored.PublicKey != user.PublicKey {
			t.Fatal("public key changed despite a rejected proof")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		proof, signals := env.resetProof(t, user, "old secret", newKey)
		err := env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{Token: "does-not-exist", Username: "alice", Proof: proof, PublicSignals: signals})
		if !errors.Is(err, domain.ErrResetTokenInvalid) {
			t.Fatalf("expected unknown token rejection, got %v", err)
		}
	})
}

func TestPasswordResetForUnknownUserIsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerUser(t, "alice", "secret")

	known, err := env.reset.RequestPasswordReset(ctx, "alice", "")
	if err != nil {
		t.Fatalf("request for known user: %v", err)
	}
	unknown, err := env.reset.RequestPasswordReset(ctx, "nobody", "")
	if err != nil {
		t.Fatalf("request for unknown user: %v", err)
	}
	if len(unknown.Token) != len(known.Token) || !unknown.ExpiresAt.Equal(known.ExpiresAt) {
		t.Fatal("unknown-user ticket must look like a real one")
	}
	if _, err := env.store.Get(ctx, "reset:"+security.HashToken(unknown.Token)); err == nil {
		t.Fatal("unknown-user ticket must not be stored")
	}
	if len(env.events.resetReqs) != 1 {
		t.Fatalf("only the known user should produce an event, got %d", len(env.events.resetReqs))
	}
}

func TestPasswordResetRequestsAreRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := env.reset.RequestPasswordReset(ctx, "alice", ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if _, err := env.reset.RequestPasswordReset(ctx, "alice", ""); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestPasswordResetRotatesSalt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.registerUser(t, "alice", "old secret")
	ticket, _ := env.reset.RequestPasswordReset(ctx, "alice", "")

	newSalt, _ := security.GenerateSalt(domain.SaltBytes)
	newKey, _ := env.engine.DerivePublicKey("new secret", newSalt)
	proof, signals := env.resetProof(t, user, "old secret", newKey)
	err := env.reset.ConfirmPasswordReset(ctx, ResetConfirmInput{
		Token: ticket.Token, Username: "alice", Proof: proof, PublicSignals: signals,
		RotateSalt: true, NewSalt: newSalt,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	salt, _ := env.identity.IssueSalt(ctx, "alice")
	if salt != newSalt {
		t.Fatalf("expected rotated salt %q, got %q", newSalt, salt)
	}
	if !env.events.resetDone[0].SaltRotated {
		t.Fatal("confirmation event should report the rotation")
	}
}
