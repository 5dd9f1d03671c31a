package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

const (
	checkModeAll = "all"
	checkModeAny = "any"
)

// PermissionHandler answers permission questions for the authenticated caller.
type PermissionHandler struct {
	rbac *usecase.RBACService
}

func NewPermissionHandler(rbac *usecase.RBACService) *PermissionHandler {
	return &PermissionHandler{rbac: rbac}
}

// Check godoc
// @Summary Check the caller's permissions
// @Description Evaluates one or more actions on a resource type in the request tenant and site.
// @Tags Permissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer session token"
// @Param X-Tenant-ID header string true "Tenant"
// @Param X-Site-ID header string false "Site"
// @Param request body PermissionCheckRequest true "Check"
// @Success 200 {object} PermissionCheckResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/permissions/check [post]
func (h *PermissionHandler) Check(c *gin.Context) {
	var req PermissionCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid permission check payload")
		return
	}
	resourceType, err := domain.ParseResourceType(req.ResourceType)
	if err != nil {
		RespondError(c, err)
		return
	}
	actions := make([]domain.Action, 0, len(req.Actions))
	for _, raw := range req.Actions {
		action, err := domain.ParseAction(raw)
		if err != nil {
			RespondError(c, err)
			return
		}
		actions = append(actions, action)
	}

	opts := usecase.PermissionOptions{
		SiteID:     middleware.SiteFrom(c),
		ResourceID: strings.TrimSpace(req.ResourceID),
	}

	var allowed bool
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", checkModeAll:
		allowed, err = h.rbac.HasAllPermissions(c.Request.Context(), callerID(c), middleware.TenantFrom(c), resourceType, actions, opts)
	case checkModeAny:
		allowed, err = h.rbac.HasAnyPermission(c.Request.Context(), callerID(c), middleware.TenantFrom(c), resourceType, actions, opts)
	default:
		RespondError(c, domain.ErrInvalidRequest)
		return
	}
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PermissionCheckResponse{Allowed: allowed})
}

// Effective godoc
// @Summary List the caller's effective permissions
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer session token"
// @Param X-Tenant-ID header string true "Tenant"
// @Param X-Site-ID header string false "Site"
// @Success 200 {object} EffectivePermissionsResponse
// @Router /api/v1/permissions/effective [get]
func (h *PermissionHandler) Effective(c *gin.Context) {
	perms, err := h.rbac.EffectivePermissions(c.Request.Context(), callerID(c), middleware.TenantFrom(c), middleware.SiteFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, EffectivePermissionsResponse{Permissions: perms})
}
