// Package access runs protected operations through an ordered chain of tenant, authentication
// and authorisation stages and audits every decision.
package access

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

// State is the position of a request in the pipeline.
type State string

const (
	StateReceived       State = "received"
	StateTenantResolved State = "tenant_resolved"
	StateAuthenticated  State = "authenticated"
	StateAuthorized     State = "authorized"
	StateExecuting      State = "executing"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

const executeStage = "execute"

// Requirement is the permission a protected operation needs. A nil requirement on a request
// means authentication alone is enough.
type Requirement struct {
	Resource domain.ResourceType
	Action   domain.Action
}

// Request carries the transport inputs of one protected call and collects what the stages resolve.
type Request struct {
	Operation     string
	TenantHeader  string
	SiteID        string
	Authorization string
	ResourceID    string
	RequestID     string
	Requirement   *Requirement

	TenantID    string
	Principal   *domain.Principal
	State       State
	FailedStage string
	FailureKind domain.ErrorKind
}

// Stage is one step of the chain. It may enrich ctx and req, or stop the chain with an error.
type Stage interface {
	Name() string
	Handle(ctx context.Context, req *Request) (context.Context, error)
}

// Operation is the protected work executed after every stage passed.
type Operation func(ctx context.Context) error

// DenialObserver is told about requests stopped by a stage.
type DenialObserver interface {
	ObserveAccessDenied(stage, reason string)
}

// Pipeline runs stages strictly in order and then the operation. There are no retries.
type Pipeline struct {
	stages   []Stage
	audit    port.AuditSink
	observer DenialObserver
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline constructs a pipeline. A nil audit sink disables auditing.
func NewPipeline(audit port.AuditSink, logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		stages: stages,
		audit:  audit,
		tracer: otel.Tracer("zk-iam/access"),
		logger: logger,
		now:    time.Now,
	}
}

// WithObserver attaches a denial observer.
func (p *Pipeline) WithObserver(observer DenialObserver) *Pipeline {
	p.observer = observer
	return p
}

// WithClock overrides the audit timestamp source.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	if clock != nil {
		p.now = clock
	}
	return p
}

// Run passes req through every stage and executes op when all of them succeed. Denials and the
// operation's own failures are returned unchanged for the transport to map.
func (p *Pipeline) Run(ctx context.Context, req *Request, op Operation) error {
	req.State = StateReceived
	ctx, span := p.tracer.Start(ctx, "access."+req.Operation)
	defer span.End()

	for _, stage := range p.stages {
		next, err := p.runStage(ctx, stage, req)
		if err != nil {
			p.fail(ctx, req, stage.Name(), domain.AuditDenied, err)
			span.SetStatus(codes.Error, string(domain.KindOf(err)))
			return err
		}
		ctx = next
	}

	p.record(ctx, req, executeStage, domain.AuditAttempt, "")
	req.State = StateExecuting
	if err := op(ctx); err != nil {
		p.fail(ctx, req, executeStage, domain.AuditFailed, err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return err
	}
	req.State = StateCompleted
	p.record(ctx, req, executeStage, domain.AuditSucceeded, "")
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, req *Request) (context.Context, error) {
	stageCtx, span := p.tracer.Start(ctx, "access.stage."+stage.Name())
	defer span.End()
	next, err := stage.Handle(stageCtx, req)
	if err != nil {
		span.SetAttributes(attribute.String("access.denied_reason", string(domain.KindOf(err))))
		return nil, err
	}
	if next == nil {
		next = ctx
	}
	return next, nil
}

func (p *Pipeline) fail(ctx context.Context, req *Request, stage string, outcome domain.AuditOutcome, err error) {
	kind := domain.KindOf(err)
	req.State = StateFailed
	req.FailedStage = stage
	req.FailureKind = kind
	if outcome == domain.AuditDenied && p.observer != nil {
		p.observer.ObserveAccessDenied(stage, string(kind))
	}
	log := logger.ForRequest(ctx, p.logger)
	if kind == domain.KindInternal || kind == domain.KindProofEngineConfiguration {
		log.Error("protected operation failed", zap.String("operation", req.Operation), zap.String("stage", stage), zap.Error(err))
	} else {
		log.Debug("protected operation stopped", zap.String("operation", req.Operation), zap.String("stage", stage), zap.String("reason", string(kind)))
	}
	p.record(ctx, req, stage, outcome, kind)
}

func (p *Pipeline) record(ctx context.Context, req *Request, stage string, outcome domain.AuditOutcome, reason domain.ErrorKind) {
	if p.audit == nil {
		return
	}
	event := domain.AuditEvent{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		SiteID:     req.SiteID,
		Operation:  req.Operation,
		ResourceID: req.ResourceID,
		Stage:      stage,
		Outcome:    outcome,
		Reason:     reason,
		RequestID:  req.RequestID,
		Timestamp:  p.now().UTC(),
	}
	if req.Principal != nil {
		event.UserID = req.Principal.UserID
	}
	if req.Requirement != nil {
		event.Resource = req.Requirement.Resource
		event.Action = req.Requirement.Action
	}
	if err := p.audit.Record(ctx, event); err != nil {
		p.logger.Warn("audit record failed", zap.String("operation", req.Operation), zap.Error(err))
	}
}
