package port

import (
	"context"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// UserRepository persists user credentials keyed by username.
type UserRepository interface {
	// Create fails with domain.ErrDuplicateUser when the username is taken.
	Create(ctx context.Context, user domain.UserCredential) error
	GetByUsername(ctx context.Context, username string) (*domain.UserCredential, error)
	GetByID(ctx context.Context, id string) (*domain.UserCredential, error)
	// Mutate applies fn to the current record and stores the result atomically. fn may run more
	// than once; an error from it aborts the write.
	Mutate(ctx context.Context, username string, fn func(*domain.UserCredential) error) (*domain.UserCredential, error)
}

// RoleRepository handles role CRUD with per-scope name uniqueness.
type RoleRepository interface {
	// Create fails with domain.ErrDuplicateRoleName when the name key is taken.
	Create(ctx context.Context, role domain.Role) error
	GetByID(ctx context.Context, id string) (*domain.Role, error)
	FindByName(ctx context.Context, tenantID string, scope domain.Scope, siteID, name string) (*domain.Role, error)
	Update(ctx context.Context, previous, role domain.Role) error
	Delete(ctx context.Context, role domain.Role) error
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Role, error)
	// MarkDeleting claims the deletion marker of a role for ttl and reports whether it was free.
	MarkDeleting(ctx context.Context, roleID string, ttl time.Duration) (bool, error)
	IsDeleting(ctx context.Context, roleID string) (bool, error)
	ClearDeleting(ctx context.Context, roleID string) error
}

// AssignmentRepository stores user to role bindings.
type AssignmentRepository interface {
	Assign(ctx context.Context, assignment domain.RoleAssignment) error
	Unassign(ctx context.Context, userID, roleID, tenantID, siteID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.RoleAssignment, error)
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// ResetTokenRepository stores hashed single-use reset tokens.
type ResetTokenRepository interface {
	Save(ctx context.Context, token domain.ResetToken) error
	// Consume returns and deletes the token in one step.
	Consume(ctx context.Context, tokenHash string) (*domain.ResetToken, error)
}

// SessionRevocationStore tracks revoked token ids and per-user watermarks.
type SessionRevocationStore interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	SetWatermark(ctx context.Context, userID string, at time.Time, ttl time.Duration) error
	// Watermark returns the zero time when none is set.
	Watermark(ctx context.Context, userID string) (time.Time, error)
}

// ReplayLedger remembers spent proof challenges.
type ReplayLedger interface {
	// Claim records fingerprint and reports false when it was already present.
	Claim(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

// AuditRepository persists audit events for later inspection.
type AuditRepository interface {
	Insert(ctx context.Context, event domain.AuditEvent) error
	ListByTenant(ctx context.Context, tenantID string, limit uint64) ([]domain.AuditEvent, error)
}

// TenantDirectory answers whether a tenant id is known.
type TenantDirectory interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
}
