package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

const (
	// TenantHeader selects the tenant a request targets.
	TenantHeader = "X-Tenant-ID"
	// SiteHeader narrows a request to one site of the tenant.
	SiteHeader = "X-Site-ID"
)

// ErrorResponder writes the HTTP response for an error stopped by the pipeline.
type ErrorResponder func(c *gin.Context, err error)

// AccessOptions describes one protected route.
type AccessOptions struct {
	Operation   string
	Requirement *access.Requirement
	// ResourceIDParam names the path parameter carrying the target resource id, if any.
	ResourceIDParam string
}

// Require is shorthand for a Requirement on resource and action.
func Require(resource domain.ResourceType, action domain.Action) *access.Requirement {
	return &access.Requirement{Resource: resource, Action: action}
}

// Protect runs the rest of the handler chain as the operation of the access pipeline. Handlers
// report failures with c.Error so the pipeline audits them; the response for a stage denial is
// written by respond.
func Protect(pipeline *access.Pipeline, opts AccessOptions, respond ErrorResponder) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &access.Request{
			Operation:     opts.Operation,
			TenantHeader:  c.GetHeader(TenantHeader),
			SiteID:        c.GetHeader(SiteHeader),
			Authorization: c.GetHeader("Authorization"),
			RequestID:     logger.RequestIDFromContext(c.Request.Context()),
			Requirement:   opts.Requirement,
		}
		if opts.ResourceIDParam != "" {
			req.ResourceID = c.Param(opts.ResourceIDParam)
		}

		err := pipeline.Run(c.Request.Context(), req, func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Set(PrincipalKey, req.Principal)
			c.Next()
			if last := c.Errors.Last(); last != nil {
				return last.Err
			}
			return nil
		})
		if err != nil && req.State == access.StateFailed && req.FailedStage != "execute" {
			c.Set(DenialKey, req)
			respond(c, err)
			c.Abort()
		}
	}
}

// PrincipalFrom returns the caller authenticated by Protect.
func PrincipalFrom(c *gin.Context) (*domain.Principal, bool) {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(*domain.Principal); ok && p != nil {
			return p, true
		}
	}
	return access.PrincipalFromContext(c.Request.Context())
}

// TenantFrom returns the tenant resolved by Protect.
func TenantFrom(c *gin.Context) string {
	return access.TenantFromContext(c.Request.Context())
}

// SiteFrom returns the validated site of the request, or "" for tenant-wide requests.
func SiteFrom(c *gin.Context) string {
	return access.SiteFromContext(c.Request.Context())
}
