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
	loginRateLimitPurpose = "login"

	loginOutcomeSuccess     = "success"
	loginOutcomeFailure     = "invalid_credentials"
	loginOutcomeLocked      = "locked"
	loginOutcomeRateLimited = "rate_limited"
	loginOutcomeError       = "error"
)

// LoginObserver records login outcomes.
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// IdentityConfig carries the login throttling parameters.
type IdentityConfig struct {
	LoginMaxAttempts int
	LoginWindow      time.Duration
}

// RegisterInput carries the public registration material. The secret never leaves the client.
type RegisterInput struct {
	Username  string
	PublicKey string
	Salt      string
}

// LoginInput is a proof-based login attempt.
type LoginInput struct {
	Username      string
	TenantID      string
	Proof         domain.Proof
	PublicSignals []string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      domain.UserCredential
}

// IdentityService implements salt issuance, registration and proof-based login.
type IdentityService struct {
	cfg      IdentityConfig
	users    port.UserRepository
	engine   port.ProofEngine
	limiter  *RateLimiter
	sessions *SessionService
	tenants  port.TenantDirectory
	events   port.EventPublisher
	observer LoginObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewIdentityService wires the identity flows.
func NewIdentityService(
	cfg IdentityConfig,
	users port.UserRepository,
	engine port.ProofEngine,
	limiter *RateLimiter,
	sessions *SessionService,
	events port.EventPublisher,
	logger *zap.Logger,
) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{
		cfg:      cfg,
		users:    users,
		engine:   engine,
		limiter:  limiter,
		sessions: sessions,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *IdentityService) WithClock(clock func() time.Time) *IdentityService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithTenantDirectory makes login reject tenants the directory does not know.
func (s *IdentityService) WithTenantDirectory(tenants port.TenantDirectory) *IdentityService {
	s.tenants = tenants
	return s
}

// WithObserver attaches a login outcome observer.
func (s *IdentityService) WithObserver(observer LoginObserver) *IdentityService {
	s.observer = observer
	return s
}

// IssueSalt returns the stored salt of a known user and a fresh random salt of the same shape
// otherwise. Both paths do one store read and one salt generation, and the random salt is never
// persisted.
func (s *IdentityService) IssueSalt(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if err := domain.ValidateUsername(username); err != nil {
		return "", err
	}

	user, lookupErr := s.users.GetByUsername(ctx, username)
	fresh, err := security.GenerateSalt(domain.SaltBytes)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	switch {
	case lookupErr == nil:
		logger.ForRequest(ctx, s.logger).Debug("salt issued", zap.String("username", logger.MaskUsername(username)), zap.Bool("known", true))
		return user.Salt, nil
	case errors.Is(lookupErr, repository.ErrNotFound):
		logger.ForRequest(ctx, s.logger).Debug("salt issued", zap.String("username", logger.MaskUsername(username)), zap.Bool("known", false))
		return fresh, nil
	default:
		return "", fmt.Errorf("lookup user: %w", lookupErr)
	}
}

// Register stores a new credential. Concurrent registrations of one username cannot both succeed.
func (s *IdentityService) Register(ctx context.Context, input RegisterInput) (*domain.UserCredential, error) {
	username := strings.TrimSpace(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	salt := strings.TrimSpace(input.Salt)
	if err := domain.ValidateSalt(salt); err != nil {
		return nil, err
	}
	publicKey := strings.TrimSpace(input.PublicKey)
	if err := s.engine.ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := domain.UserCredential{
		ID:        uuid.NewString(),
		Username:  username,
		Salt:      salt,
		PublicKey: publicKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			return nil, err
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	logger.ForRequest(ctx, s.logger).Info("user registered", zap.String("user_id", user.ID), zap.String("username", logger.MaskUsername(username)))
	if s.events != nil {
		event := domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       user.ID,
			Username:     user.Username,
			RegisteredAt: now,
			ProofEngine:  s.engine.Name(),
		}
		if err := s.events.PublishUserRegistered(ctx, event); err != nil {
			s.logger.Warn("publish user registered failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return &user, nil
}

// VerifyLogin checks a proof of knowledge of the user's secret and issues a session token.
// Every credential failure yields domain.ErrInvalidCredentials; the reason is only logged.
func (s *IdentityService) VerifyLogin(ctx context.Context, input LoginInput) (*LoginResult, error) {
	log := logger.ForRequest(ctx, s.logger)
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	key := loginKey(username)
	decision, err := s.limiter.CheckAndIncrement(ctx, key, s.cfg.LoginMaxAttempts, s.cfg.LoginWindow)
	if err != nil {
		s.observe(loginOutcomeError)
		return nil, fmt.Errorf("login rate limit: %w", err)
	}
	if !decision.Allowed {
		s.observe(loginOutcomeRateLimited)
		log.Info("login rate limited", zap.String("username", logger.MaskUsername(username)), zap.Duration("retry_after", decision.RetryAfter))
		return nil, &domain.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.observe(loginOutcomeFailure)
			log.Info("login rejected", zap.String("username", logger.MaskUsername(username)), zap.String("reason", "unknown user"))
			return nil, domain.ErrInvalidCredentials
		}
		s.observe(loginOutcomeError)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Locked {
		s.observe(loginOutcomeLocked)
		log.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "account locked"))
		return nil, domain.ErrAccountLocked
	}

	ok, err := s.engine.VerifyProof(ctx, input.Proof, input.PublicSignals, user.PublicKey)
	if err != nil {
		s.observe(loginOutcomeError)
		if errors.Is(err, domain.ErrProofEngineConfiguration) {
			log.Error("proof engine misconfigured", zap.Error(err))
		}
		return nil, fmt.Errorf("verify proof: %w", err)
	}
	if !ok {
		s.observe(loginOutcomeFailure)
		log.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "proof verification failed"), zap.Int64("attempt", decision.Count))
		return nil, domain.ErrInvalidCredentials
	}

	// The account may have been locked or re-keyed while the proof was checked.
	verifiedKey := user.PublicKey
	now := s.now().UTC()
	committed, err := s.users.Mutate(ctx, user.Username, func(current *domain.UserCredential) error {
		if current.Locked {
			return domain.ErrAccountLocked
		}
		if current.PublicKey != verifiedKey {
			return domain.ErrInvalidCredentials
		}
		current.LastLoginAt = &now
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountLocked):
			s.observe(loginOutcomeLocked)
			log.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "account locked during verification"))
			return nil, domain.ErrAccountLocked
		case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, repository.ErrNotFound):
			s.observe(loginOutcomeFailure)
			log.Info("login rejected", zap.String("user_id", user.ID), zap.String("reason", "credential changed during verification"))
			return nil, domain.ErrInvalidCredentials
		default:
			s.observe(loginOutcomeError)
			return nil, fmt.Errorf("record last login: %w", err)
		}
	}
	user = committed

	if err := s.limiter.Reset(ctx, key); err != nil {
		log.Warn("reset login counter failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	token, claims, err := s.sessions.Issue(ctx, *user, tenantID, nil)
	if err != nil {
		s.observe(loginOutcomeError)
		return nil, err
	}

	s.observe(loginOutcomeSuccess)
	log.Info("login succeeded", zap.String("user_id", user.ID), zap.String("tenant_id", tenantID), zap.String("jti", claims.ID))
	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      *user,
	}, nil
}

// Logout deny-lists the caller's token.
func (s *IdentityService) Logout(ctx context.Context, principal domain.Principal) error {
	return s.sessions.Revoke(ctx, principal)
}

// LookupUser loads an account by username.
func (s *IdentityService) LookupUser(ctx context.Context, username string) (*domain.UserCredential, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// SetLocked locks or unlocks an account. Unlocking also clears the login counter.
func (s *IdentityService) SetLocked(ctx context.Context, username string, locked bool) (*domain.UserCredential, error) {
	changed := false
	user, err := s.users.Mutate(ctx, strings.TrimSpace(username), func(current *domain.UserCredential) error {
		changed = current.Locked != locked
		if changed {
			current.Locked = locked
			current.UpdatedAt = s.now().UTC()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user lock: %w", err)
	}
	if !changed {
		return user, nil
	}
	if !locked {
		if err := s.limiter.Reset(ctx, loginKey(user.Username)); err != nil {
			s.logger.Warn("reset login counter failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	logger.ForRequest(ctx, s.logger).Info("account lock changed", zap.String("user_id", user.ID), zap.Bool("locked", locked))
	return user, nil
}

func (s *IdentityService) checkTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return nil
	}
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return err
	}
	if s.tenants == nil {
		return nil
	}
	exists, err := s.tenants.Exists(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("lookup tenant: %w", err)
	}
	if !exists {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (s *IdentityService) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(outcome)
	}
}

func loginKey(username string) string {
	return loginRateLimitPurpose + ":" + strings.ToLower(username)
}
