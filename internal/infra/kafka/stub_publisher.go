package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when kafka.enabled is false.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a log-only event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType, subject string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now()
	}
	p.logger.Debug("Stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("subject", subject),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishUserRegistered logs iam.user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.logEvent(TopicUserRegistered, event.UserID, event.RegisteredAt,
		zap.String("username", logger.MaskUsername(event.Username)),
		zap.String("proof_engine", event.ProofEngine),
	)
	return nil
}

// PublishPasswordResetRequested logs iam.user.password.reset_requested events without the raw token.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(TopicPasswordResetRequested, event.UserID, event.RequestedAt,
		zap.String("token", logger.MaskString(event.Token)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishPasswordResetConfirmed logs iam.user.password.reset_confirmed events.
func (p *StubPublisher) PublishPasswordResetConfirmed(_ context.Context, event domain.PasswordResetConfirmedEvent) error {
	p.logEvent(TopicPasswordResetConfirmed, event.UserID, event.ConfirmedAt,
		zap.Bool("salt_rotated", event.SaltRotated),
		zap.Bool("sessions_revoked", event.SessionsRevoked),
	)
	return nil
}

// PublishRoleChanged logs role lifecycle events.
func (p *StubPublisher) PublishRoleChanged(_ context.Context, event domain.RoleChangedEvent) error {
	topic, err := roleChangeTopic(event.Change)
	if err != nil {
		return err
	}
	p.logEvent(topic, event.RoleID, event.ChangedAt,
		zap.String("role_name", event.RoleName),
		zap.String("tenant_id", event.TenantID),
		zap.String("changed_by", event.ChangedBy),
	)
	return nil
}

// PublishRoleAssignment logs role assignment events.
func (p *StubPublisher) PublishRoleAssignment(_ context.Context, event domain.RoleAssignmentEvent) error {
	topic := TopicRoleUnassigned
	if event.Assigned {
		topic = TopicRoleAssigned
	}
	p.logEvent(topic, event.UserID, event.OccurredAt,
		zap.String("role_id", event.RoleID),
		zap.String("tenant_id", event.TenantID),
		zap.String("actor", event.Actor),
	)
	return nil
}

// PublishAccessAudit drops audit events; the log sink already records them.
func (p *StubPublisher) PublishAccessAudit(context.Context, domain.AuditEvent) error {
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
