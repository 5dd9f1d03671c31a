package port

import (
	"context"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishPasswordResetConfirmed(ctx context.Context, event domain.PasswordResetConfirmedEvent) error
	PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error
	PublishRoleAssignment(ctx context.Context, event domain.RoleAssignmentEvent) error
	PublishAccessAudit(ctx context.Context, event domain.AuditEvent) error
}

// AuditSink receives access pipeline audit records.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
