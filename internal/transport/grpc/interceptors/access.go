package interceptors

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

const (
	authorizationKey = "authorization"
	tenantKey        = "x-tenant-id"
	siteKey          = "x-site-id"
	requestIDKey     = "x-request-id"
	retryAfterKey    = "retry-after"
)

// Policy protects one gRPC method.
type Policy struct {
	Pipeline    *access.Pipeline
	Operation   string
	Requirement *access.Requirement
}

// DenialObserver is told about calls the pipeline stopped before the handler ran.
type DenialObserver interface {
	ObserveDenial(fullMethod, stage string, kind domain.ErrorKind)
}

// AccessInterceptor runs protected methods through their access pipeline. Methods without a policy
// are public.
type AccessInterceptor struct {
	policies map[string]Policy
	logger   *zap.Logger
	observer DenialObserver
}

// NewAccessInterceptor builds an interceptor for the given full-method policies.
func NewAccessInterceptor(policies map[string]Policy, log *zap.Logger) *AccessInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	copied := make(map[string]Policy, len(policies))
	for method, policy := range policies {
		copied[method] = policy
	}
	return &AccessInterceptor{policies: copied, logger: log}
}

// WithObserver attaches a denial observer.
func (ai *AccessInterceptor) WithObserver(o DenialObserver) *AccessInterceptor {
	ai.observer = o
	return ai
}

// UnaryServerInterceptor enforces the policies on unary calls.
func (ai *AccessInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if ai == nil {
			return handler(ctx, req)
		}
		policy, ok := ai.policies[info.FullMethod]
		if !ok || policy.Pipeline == nil {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		requestID := first(md, requestIDKey)
		if requestID != "" {
			ctx = context.WithValue(ctx, logger.RequestIDKey{}, requestID)
		}
		areq := &access.Request{
			Operation:     policy.Operation,
			TenantHeader:  first(md, tenantKey),
			SiteID:        first(md, siteKey),
			Authorization: first(md, authorizationKey),
			RequestID:     requestID,
			Requirement:   policy.Requirement,
		}

		var resp any
		err := policy.Pipeline.Run(ctx, areq, func(ctx context.Context) error {
			var callErr error
			resp, callErr = handler(ctx, req)
			return callErr
		})
		if err != nil {
			if areq.FailedStage != "" && areq.FailedStage != "execute" {
				ai.logger.Debug("gRPC call denied",
					zap.String("method", info.FullMethod),
					zap.String("stage", areq.FailedStage),
					zap.String("reason", string(areq.FailureKind)))
				if ai.observer != nil {
					ai.observer.ObserveDenial(info.FullMethod, areq.FailedStage, areq.FailureKind)
				}
			}
			return nil, StatusFromError(ctx, err)
		}
		return resp, nil
	}
}

// StatusFromError converts a domain error into a gRPC status. Errors that already carry a status
// pass through unchanged.
func StatusFromError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if wait, ok := domain.RetryAfter(err); ok {
		seconds := int(wait.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(retryAfterKey, strconv.Itoa(seconds)))
		return status.Error(codes.ResourceExhausted, "too many requests")
	}

	switch domain.KindOf(err) {
	case domain.KindInvalidCredentials:
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case domain.KindTokenExpired, domain.KindTokenRevoked, domain.KindTokenInvalid, domain.KindAuthenticationRequired:
		return status.Error(codes.Unauthenticated, "authentication required")
	case domain.KindAccountLocked:
		return status.Error(codes.PermissionDenied, "account locked")
	case domain.KindPermissionDenied:
		return status.Error(codes.PermissionDenied, "permission denied")
	case domain.KindSystemRoleImmutable:
		return status.Error(codes.PermissionDenied, "system roles cannot be modified")
	case domain.KindDuplicateRoleName, domain.KindDuplicateUser:
		return status.Error(codes.AlreadyExists, err.Error())
	case domain.KindRoleInUse:
		return status.Error(codes.FailedPrecondition, "role is still assigned")
	case domain.KindConflict:
		return status.Error(codes.Aborted, "concurrent modification")
	case domain.KindRoleNotFound, domain.KindUserNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindTenantNotFound, domain.KindResetTokenInvalid, domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func first(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
