package server

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/grpc/zkiamv1"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

// PermissionChecker is the RBAC surface the access service needs.
type PermissionChecker interface {
	HasAllPermissions(ctx context.Context, userID, tenantID string, resourceType domain.ResourceType, actions []domain.Action, opts usecase.PermissionOptions) (bool, error)
	HasAnyPermission(ctx context.Context, userID, tenantID string, resourceType domain.ResourceType, actions []domain.Action, opts usecase.PermissionOptions) (bool, error)
	EffectivePermissions(ctx context.Context, userID, tenantID, siteID string) ([]string, error)
}

// AccessServer implements zkiam.v1.AccessService. It must run behind the access interceptor,
// which places the caller and tenant on the context.
type AccessServer struct {
	rbac PermissionChecker
}

var _ zkiamv1.AccessServiceServer = (*AccessServer)(nil)

func NewAccessServer(rbac PermissionChecker) *AccessServer {
	return &AccessServer{rbac: rbac}
}

// CheckPermission reports whether the caller holds the requested actions in the tenant.
func (s *AccessServer) CheckPermission(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	principal, ok := access.PrincipalFromContext(ctx)
	if !ok {
		return nil, domain.ErrAuthenticationRequired
	}
	fields := req.GetFields()

	resourceType, err := domain.ParseResourceType(fields["resource_type"].GetStringValue())
	if err != nil {
		return nil, err
	}
	rawActions := fields["actions"].GetListValue().GetValues()
	if len(rawActions) == 0 {
		return nil, fmt.Errorf("%w: at least one action is required", domain.ErrInvalidRequest)
	}
	actions := make([]domain.Action, 0, len(rawActions))
	for _, v := range rawActions {
		action, err := domain.ParseAction(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	opts := usecase.PermissionOptions{
		SiteID:     access.SiteFromContext(ctx),
		ResourceID: strings.TrimSpace(fields["resource_id"].GetStringValue()),
	}
	tenantID := access.TenantFromContext(ctx)

	var allowed bool
	switch strings.ToLower(strings.TrimSpace(fields["mode"].GetStringValue())) {
	case "", "all":
		allowed, err = s.rbac.HasAllPermissions(ctx, principal.UserID, tenantID, resourceType, actions, opts)
	case "any":
		allowed, err = s.rbac.HasAnyPermission(ctx, principal.UserID, tenantID, resourceType, actions, opts)
	default:
		return nil, fmt.Errorf("%w: mode must be all or any", domain.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(allowed), nil
}

// EffectivePermissions lists the resource:action pairs the caller holds in the tenant.
func (s *AccessServer) EffectivePermissions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	principal, ok := access.PrincipalFromContext(ctx)
	if !ok {
		return nil, domain.ErrAuthenticationRequired
	}
	perms, err := s.rbac.EffectivePermissions(ctx, principal.UserID, access.TenantFromContext(ctx), access.SiteFromContext(ctx))
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(perms))
	for _, p := range perms {
		values = append(values, p)
	}
	return structpb.NewList(values)
}
