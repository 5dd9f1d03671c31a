package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
)

// SessionService issues session tokens and checks them against the revocation state.
type SessionService struct {
	tokens      *security.SessionTokenManager
	revocations port.SessionRevocationStore
	logger      *zap.Logger
	now         func() time.Time
}

// NewSessionService constructs a SessionService. revocations may be nil, in which case tokens
// are only checked for signature and lifetime.
func NewSessionService(tokens *security.SessionTokenManager, revocations port.SessionRevocationStore, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source used for revocation bookkeeping.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *SessionService) TTL() time.Duration {
	return s.tokens.TTL()
}

// Issue signs a session token for the user inside tenantID.
func (s *SessionService) Issue(ctx context.Context, user domain.UserCredential, tenantID string, permissions []string) (string, *security.SessionClaims, error) {
	raw, claims, err := s.tokens.Issue(security.SessionOptions{
		UserID:      user.ID,
		Username:    user.Username,
		TenantID:    tenantID,
		Permissions: permissions,
		IssuedAt:    s.now(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("issue session token: %w", err)
	}
	return raw, claims, nil
}

// Validate verifies a raw token and resolves the caller. Tokens on the deny-list or issued before
// the user's revocation watermark are reported as domain.ErrTokenRevoked.
func (s *SessionService) Validate(ctx context.Context, raw string) (*domain.Principal, error) {
	if raw == "" {
		return nil, domain.ErrAuthenticationRequired
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	principal := claims.Principal()
	if s.revocations == nil {
		return principal, nil
	}

	revoked, err := s.revocations.IsTokenRevoked(ctx, principal.TokenID)
	if err != nil {
		return nil, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return nil, domain.ErrTokenRevoked
	}

	watermark, err := s.revocations.Watermark(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("check session watermark: %w", err)
	}
	// iat has second precision, so compare against the watermark truncated to the same.
	if !watermark.IsZero() && principal.IssuedAt.Before(watermark.Truncate(time.Second)) {
		return nil, domain.ErrTokenRevoked
	}
	return principal, nil
}

// Revoke deny-lists a single token for the rest of its lifetime.
func (s *SessionService) Revoke(ctx context.Context, principal domain.Principal) error {
	if s.revocations == nil {
		return errors.New("session revocation is not configured")
	}
	ttl := principal.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.RevokeToken(ctx, principal.TokenID, ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.Info("session revoked", zap.String("user_id", principal.UserID), zap.String("jti", principal.TokenID))
	return nil
}

// RevokeAll invalidates every token issued to the user before now. The watermark only needs to
// outlive the longest token lifetime.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) error {
	if s.revocations == nil {
		return errors.New("session revocation is not configured")
	}
	if err := s.revocations.SetWatermark(ctx, userID, s.now(), s.tokens.TTL()); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	s.logger.Info("user sessions revoked", zap.String("user_id", userID))
	return nil
}
