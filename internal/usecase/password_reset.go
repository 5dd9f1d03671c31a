package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
	"github.com/arklim/zk-tenant-iam/internal/repository"
)

const (
	defaultResetTTL         = 15 * time.Minute
	resetTokenBytes         = 32
	resetRequestRateLimit   = "reset-request"
	defaultResetMaxAttempts = 3
)

// PasswordResetConfig tunes the reset flow.
type PasswordResetConfig struct {
	TokenTTL      time.Duration
	MaxAttempts   int
	Window        time.Duration
	RevokeOnReset bool
}

// ResetTicket is handed back for every reset request, whether or not the user exists.
type ResetTicket struct {
	Token     string
	ExpiresAt time.Time
}

// ResetConfirmInput completes a reset. PublicSignals[0] carries the new public key and the proof
// must be produced with the current secret.
type ResetConfirmInput struct {
	Token         string
	Username      string
	Proof         domain.Proof
	PublicSignals []string
	RotateSalt    bool
	NewSalt       string
}

// PasswordResetService replaces a user's public key after a proof with the current secret.
type PasswordResetService struct {
	cfg      PasswordResetConfig
	users    port.UserRepository
	tokens   port.ResetTokenRepository
	engine   port.ProofEngine
	limiter  *RateLimiter
	sessions *SessionService
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewPasswordResetService constructs the reset flow.
func NewPasswordResetService(
	cfg PasswordResetConfig,
	users port.UserRepository,
	tokens port.ResetTokenRepository,
	engine port.ProofEngine,
	limiter *RateLimiter,
	sessions *SessionService,
	events port.EventPublisher,
	logger *zap.Logger,
) *PasswordResetService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultResetTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultResetMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.TokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetService{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		engine:   engine,
		limiter:  limiter,
		sessions: sessions,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *PasswordResetService) WithClock(clock func() time.Time) *PasswordResetService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// RequestPasswordReset issues a single-use reset token. Unknown usernames receive a ticket of the
// same shape that is never stored, so the response does not reveal whether the account exists.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, username, ip string) (*ResetTicket, error) {
	log := logger.ForRequest(ctx, s.logger)
	username = strings.TrimSpace(username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}

	decision, err := s.limiter.CheckAndIncrement(ctx, resetRequestRateLimit+":"+strings.ToLower(username), s.cfg.MaxAttempts, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("reset rate limit: %w", err)
	}
	if !decision.Allowed {
		return nil, &domain.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	raw, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now().UTC()
	ticket := &ResetTicket{Token: raw, ExpiresAt: now.Add(s.cfg.TokenTTL)}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("password reset requested for unknown user", zap.String("username", logger.MaskUsername(username)))
			return ticket, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	record := domain.ResetToken{
		TokenHash: security.HashToken(raw),
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: ticket.ExpiresAt,
	}
	if err := s.tokens.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}
	log.Info("password reset requested", zap.String("user_id", user.ID))

	if s.events != nil {
		event := domain.PasswordResetRequestedEvent{
			EventID:     uuid.NewString(),
			UserID:      user.ID,
			Username:    user.Username,
			Token:       raw,
			RequestedAt: now,
			ExpiresAt:   ticket.ExpiresAt,
		}
		if ip != "" {
			masked := logger.MaskIP(ip)
			event.IPAddress = &masked
		}
		if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
			log.Warn("publish password reset requested failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return ticket, nil
}

// ConfirmPasswordReset consumes the token and, if the proof checks out against the current key,
// installs the new public key. The token is spent even when the proof is rejected.
func (s *PasswordResetService) ConfirmPasswordReset(ctx context.Context, input ResetConfirmInput) error {
	log := logger.ForRequest(ctx, s.logger)
	raw := strings.TrimSpace(input.Token)
	username := strings.TrimSpace(input.Username)
	if raw == "" || username == "" {
		return domain.ErrResetTokenInvalid
	}

	record, err := s.tokens.Consume(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	now := s.now().UTC()
	if record.Expired(now) || !strings.EqualFold(record.Username, username) {
		log.Info("password reset rejected", zap.String("user_id", record.UserID), zap.String("reason", "token expired or username mismatch"))
		return domain.ErrResetTokenInvalid
	}

	if len(input.PublicSignals) != domain.PublicSignalCount {
		return domain.ErrInvalidProof
	}
	newKey := input.PublicSignals[domain.SignalChallenge]
	if err := s.engine.ValidatePublicKey(newKey); err != nil {
		return err
	}
	var newSalt string
	if input.RotateSalt {
		newSalt = strings.TrimSpace(input.NewSalt)
		if err := domain.ValidateSalt(newSalt); err != nil {
			return err
		}
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.engine.VerifyProof(ctx, input.Proof, input.PublicSignals, user.PublicKey)
	if err != nil {
		return fmt.Errorf("verify proof: %w", err)
	}
	if !ok {
		log.Info("password reset rejected", zap.String("user_id", user.ID), zap.String("reason", "proof verification failed"))
		return domain.ErrInvalidCredentials
	}

	// Install the new key only over the key the proof was checked against.
	provenKey := user.PublicKey
	user, err = s.users.Mutate(ctx, user.Username, func(current *domain.UserCredential) error {
		if current.PublicKey != provenKey {
			return domain.ErrConcurrentUpdate
		}
		current.PublicKey = newKey
		if newSalt != "" {
			current.Salt = newSalt
		}
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			log.Info("password reset rejected", zap.String("user_id", record.UserID), zap.String("reason", "key changed during verification"))
			return domain.ErrResetTokenInvalid
		}
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrResetTokenInvalid
		}
		return fmt.Errorf("update public key: %w", err)
	}

	revoked := false
	if s.cfg.RevokeOnReset && s.sessions != nil {
		if err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
			log.Warn("revoke sessions after reset failed", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			revoked = true
		}
	}
	if err := s.limiter.Reset(ctx, loginKey(user.Username)); err != nil {
		log.Warn("reset login counter failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	log.Info("password reset completed", zap.String("user_id", user.ID), zap.Bool("salt_rotated", newSalt != ""), zap.Bool("sessions_revoked", revoked))

	if s.events != nil {
		event := domain.PasswordResetConfirmedEvent{
			EventID:         uuid.NewString(),
			UserID:          user.ID,
			ConfirmedAt:     now,
			SaltRotated:     newSalt != "",
			SessionsRevoked: revoked,
		}
		if err := s.events.PublishPasswordResetConfirmed(ctx, event); err != nil {
			log.Warn("publish password reset confirmed failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}
