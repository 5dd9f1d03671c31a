package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/config"
)

const schemaVersion = "1.0"

// Topics published by the service, before the configured prefix is applied.
const (
	TopicUserRegistered         = "iam.user.registered"
	TopicPasswordResetRequested = "iam.user.password.reset_requested"
	TopicPasswordResetConfirmed = "iam.user.password.reset_confirmed"
	TopicRoleCreated            = "iam.role.created"
	TopicRoleUpdated            = "iam.role.updated"
	TopicRoleDeleted            = "iam.role.deleted"
	TopicRoleAssigned           = "iam.role.assigned"
	TopicRoleUnassigned         = "iam.role.unassigned"
	TopicAccessAudit            = "iam.access.audit"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// publish keys every message by tenant when known, else by user, so events of one subject stay ordered.
func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID, tenantID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	key := tenantID
	if key == "" {
		key = userID
	}
	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
			{Key: []byte("schema_version"), Value: []byte(schemaVersion)},
		},
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes iam.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string         `json:"user_id"`
		Username     string         `json:"username"`
		RegisteredAt time.Time      `json:"registered_at"`
		ProofEngine  string         `json:"proof_engine"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		UserID:       event.UserID,
		Username:     event.Username,
		RegisteredAt: event.RegisteredAt.UTC(),
		ProofEngine:  event.ProofEngine,
		Metadata:     event.Metadata,
	}
	return p.publish(ctx, event.EventID, TopicUserRegistered, event.UserID, "", event.RegisteredAt, payload)
}

// PublishPasswordResetRequested publishes iam.user.password.reset_requested events. The token is
// meant for the delivery service consuming this topic.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		UserID      string         `json:"user_id"`
		Username    string         `json:"username"`
		Token       string         `json:"token"`
		RequestedAt time.Time      `json:"requested_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		IPAddress   *string        `json:"ip_address,omitempty"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		UserID:      event.UserID,
		Username:    event.Username,
		Token:       event.Token,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		IPAddress:   event.IPAddress,
		Metadata:    event.Metadata,
	}
	return p.publish(ctx, event.EventID, TopicPasswordResetRequested, event.UserID, "", event.RequestedAt, payload)
}

// PublishPasswordResetConfirmed publishes iam.user.password.reset_confirmed events.
func (p *EventPublisher) PublishPasswordResetConfirmed(ctx context.Context, event domain.PasswordResetConfirmedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		ConfirmedAt     time.Time      `json:"confirmed_at"`
		SaltRotated     bool           `json:"salt_rotated"`
		SessionsRevoked bool           `json:"sessions_revoked"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		ConfirmedAt:     event.ConfirmedAt.UTC(),
		SaltRotated:     event.SaltRotated,
		SessionsRevoked: event.SessionsRevoked,
		Metadata:        event.Metadata,
	}
	return p.publish(ctx, event.EventID, TopicPasswordResetConfirmed, event.UserID, "", event.ConfirmedAt, payload)
}

// PublishRoleChanged publishes iam.role.created, iam.role.updated and iam.role.deleted events.
func (p *EventPublisher) PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error {
	topic, err := roleChangeTopic(event.Change)
	if err != nil {
		return err
	}
	payload := struct {
		RoleID    string         `json:"role_id"`
		RoleName  string         `json:"role_name"`
		TenantID  string         `json:"tenant_id,omitempty"`
		SiteID    string         `json:"site_id,omitempty"`
		Scope     domain.Scope   `json:"scope"`
		ChangedBy string         `json:"changed_by,omitempty"`
		ChangedAt time.Time      `json:"changed_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		RoleID:    event.RoleID,
		RoleName:  event.RoleName,
		TenantID:  event.TenantID,
		SiteID:    event.SiteID,
		Scope:     event.Scope,
		ChangedBy: event.ChangedBy,
		ChangedAt: event.ChangedAt.UTC(),
		Metadata:  event.Metadata,
	}
	return p.publish(ctx, event.EventID, topic, event.ChangedBy, event.TenantID, event.ChangedAt, payload)
}

// PublishRoleAssignment publishes iam.role.assigned and iam.role.unassigned events.
func (p *EventPublisher) PublishRoleAssignment(ctx context.Context, event domain.RoleAssignmentEvent) error {
	topic := TopicRoleUnassigned
	if event.Assigned {
		topic = TopicRoleAssigned
	}
	payload := struct {
		UserID     string         `json:"user_id"`
		RoleID     string         `json:"role_id"`
		RoleName   string         `json:"role_name"`
		TenantID   string         `json:"tenant_id,omitempty"`
		SiteID     string         `json:"site_id,omitempty"`
		Actor      string         `json:"actor,omitempty"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		UserID:     event.UserID,
		RoleID:     event.RoleID,
		RoleName:   event.RoleName,
		TenantID:   event.TenantID,
		SiteID:     event.SiteID,
		Actor:      event.Actor,
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}
	return p.publish(ctx, event.EventID, topic, event.UserID, event.TenantID, event.OccurredAt, payload)
}

// PublishAccessAudit publishes iam.access.audit events.
func (p *EventPublisher) PublishAccessAudit(ctx context.Context, event domain.AuditEvent) error {
	return p.publish(ctx, event.ID, TopicAccessAudit, event.UserID, event.TenantID, event.Timestamp, event)
}

func roleChangeTopic(change domain.RoleChange) (string, error) {
	switch change {
	case domain.RoleCreated:
		return TopicRoleCreated, nil
	case domain.RoleUpdated:
		return TopicRoleUpdated, nil
	case domain.RoleDeleted:
		return TopicRoleDeleted, nil
	}
	return "", fmt.Errorf("unknown role change %q", change)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
