package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// SessionValidator resolves a raw bearer token into the caller.
type SessionValidator interface {
	Validate(ctx context.Context, raw string) (*domain.Principal, error)
}

// Authorizer answers a permission request for a user.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, req domain.PermissionRequest) (bool, error)
}

// TenantStage resolves the tenant a request targets from the x-tenant-id header, and the site
// from x-site-id. A site is only meaningful inside a tenant.
type TenantStage struct {
	Directory port.TenantDirectory
	// Optional lets requests without a tenant header through with an empty tenant.
	Optional bool
}

// Name implements Stage.
func (TenantStage) Name() string { return "tenant" }

// Handle implements Stage.
func (s TenantStage) Handle(ctx context.Context, req *Request) (context.Context, error) {
	tenantID := strings.TrimSpace(req.TenantHeader)
	siteID := strings.TrimSpace(req.SiteID)
	if tenantID == "" {
		if siteID != "" {
			return nil, domain.ErrInvalidSiteID
		}
		if s.Optional {
			req.State = StateTenantResolved
			return ctx, nil
		}
		return nil, domain.ErrTenantNotFound
	}
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if siteID != "" {
		if err := domain.ValidateSiteID(siteID); err != nil {
			return nil, err
		}
	}
	if s.Directory != nil {
		exists, err := s.Directory.Exists(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("lookup tenant: %w", err)
		}
		if !exists {
			return nil, domain.ErrTenantNotFound
		}
	}
	req.TenantID = tenantID
	req.SiteID = siteID
	req.State = StateTenantResolved
	return WithSite(WithTenant(ctx, tenantID), siteID), nil
}

// AuthenticationStage validates the bearer session token. A token bound to a tenant is only
// accepted for that tenant.
type AuthenticationStage struct {
	Sessions SessionValidator
}

// Name implements Stage.
func (AuthenticationStage) Name() string { return "authentication" }

// Handle implements Stage.
func (s AuthenticationStage) Handle(ctx context.Context, req *Request) (context.Context, error) {
	raw, ok := BearerToken(req.Authorization)
	if !ok {
		return nil, domain.ErrAuthenticationRequired
	}
	principal, err := s.Sessions.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if principal.TenantID != "" && req.TenantID != "" && principal.TenantID != req.TenantID {
		return nil, domain.ErrTenantMismatch
	}
	req.Principal = principal
	req.State = StateAuthenticated
	return WithPrincipal(ctx, principal), nil
}

// AuthorizationStage checks the request requirement against the caller's roles.
type AuthorizationStage struct {
	Authorizer Authorizer
}

// Name implements Stage.
func (AuthorizationStage) Name() string { return "authorization" }

// Handle implements Stage.
func (s AuthorizationStage) Handle(ctx context.Context, req *Request) (context.Context, error) {
	if req.Requirement == nil {
		req.State = StateAuthorized
		return ctx, nil
	}
	if req.Principal == nil {
		return nil, domain.ErrAuthenticationRequired
	}
	granted, err := s.Authorizer.Authorize(ctx, req.Principal.UserID, domain.PermissionRequest{
		TenantID:     req.TenantID,
		SiteID:       req.SiteID,
		ResourceType: req.Requirement.Resource,
		ResourceID:   req.ResourceID,
		Action:       req.Requirement.Action,
	})
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if !granted {
		return nil, domain.ErrPermissionDenied
	}
	req.State = StateAuthorized
	return ctx, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
