package access

import (
	"context"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

type principalKey struct{}
type tenantKey struct{}
type siteKey struct{}

// WithPrincipal stores the authenticated caller on ctx.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by the authentication stage.
func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*domain.Principal)
	return p, ok && p != nil
}

// WithTenant stores the resolved tenant id on ctx.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant resolved by the tenant stage.
func TenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey{}).(string)
	return tenantID
}

// WithSite stores the validated site id on ctx.
func WithSite(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, siteKey{}, siteID)
}

// SiteFromContext returns the site resolved by the tenant stage, or "" for tenant-wide requests.
func SiteFromContext(ctx context.Context) string {
	siteID, _ := ctx.Value(siteKey{}).(string)
	return siteID
}
