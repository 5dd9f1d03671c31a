package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

const (
	auditTable        = "iam.access_audit"
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var auditColumns = []string{
	"id", "user_id", "tenant_id", "site_id", "operation", "action", "resource",
	"resource_id", "stage", "outcome", "reason", "request_id", "occurred_at",
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AuditRepository implements port.AuditRepository over PostgreSQL.
type AuditRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository constructs an audit repository. db is usually a *pgxpool.Pool.
func NewAuditRepository(db pgExecutor) *AuditRepository {
	return &AuditRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert appends one audit record.
func (r *AuditRepository) Insert(ctx context.Context, e domain.AuditEvent) error {
	stmt, args, err := r.builder.Insert(auditTable).
		Columns(auditColumns...).
		Values(e.ID, e.UserID, e.TenantID, e.SiteID, e.Operation, string(e.Action), string(e.Resource),
			e.ResourceID, e.Stage, string(e.Outcome), string(e.Reason), e.RequestID, e.Timestamp.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListByTenant returns the newest records of a tenant first.
func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID string, limit uint64) ([]domain.AuditEvent, error) {
	if limit == 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	stmt, args, err := r.builder.Select(auditColumns...).
		From(auditTable).
		Where(squirrel.Eq{"tenant_id": tenantID}).
		OrderBy("occurred_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select audit sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e                                 domain.AuditEvent
			action, resource, outcome, reason string
			occurredAt                        time.Time
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TenantID, &e.SiteID, &e.Operation, &action, &resource,
			&e.ResourceID, &e.Stage, &outcome, &reason, &e.RequestID, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Action = domain.Action(action)
		e.Resource = domain.ResourceType(resource)
		e.Outcome = domain.AuditOutcome(outcome)
		e.Reason = domain.ErrorKind(reason)
		e.Timestamp = occurredAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return events, nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
