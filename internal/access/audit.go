package access

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// LogSink writes audit events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Record implements port.AuditSink.
func (s *LogSink) Record(_ context.Context, e domain.AuditEvent) error {
	fields := []zap.Field{
		zap.String("audit_id", e.ID),
		zap.String("operation", e.Operation),
		zap.String("stage", e.Stage),
		zap.String("outcome", string(e.Outcome)),
		zap.String("user_id", e.UserID),
		zap.String("tenant_id", e.TenantID),
		zap.String("resource", string(e.Resource)),
		zap.String("action", string(e.Action)),
		zap.String("request_id", e.RequestID),
	}
	if e.SiteID != "" {
		fields = append(fields, zap.String("site_id", e.SiteID))
	}
	if e.ResourceID != "" {
		fields = append(fields, zap.String("resource_id", e.ResourceID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", string(e.Reason)))
	}
	s.logger.Info("access", fields...)
	return nil
}

// PublisherSink forwards audit events to the event bus.
type PublisherSink struct {
	publisher port.EventPublisher
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(publisher port.EventPublisher) *PublisherSink {
	return &PublisherSink{publisher: publisher}
}

// Record implements port.AuditSink.
func (s *PublisherSink) Record(ctx context.Context, e domain.AuditEvent) error {
	return s.publisher.PublishAccessAudit(ctx, e)
}

// RepositorySink persists audit events.
type RepositorySink struct {
	repo port.AuditRepository
}

// NewRepositorySink constructs a RepositorySink.
func NewRepositorySink(repo port.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Record implements port.AuditSink.
func (s *RepositorySink) Record(ctx context.Context, e domain.AuditEvent) error {
	return s.repo.Insert(ctx, e)
}

// MultiSink fans an event out to every sink. All sinks are tried even when some fail.
type MultiSink []port.AuditSink

// Record implements port.AuditSink.
func (m MultiSink) Record(ctx context.Context, e domain.AuditEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ port.AuditSink = (*LogSink)(nil)
	_ port.AuditSink = (*PublisherSink)(nil)
	_ port.AuditSink = (*RepositorySink)(nil)
	_ port.AuditSink = MultiSink(nil)
)
