package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

// RoleHandler manages tenant roles and assignments. Every route runs behind middleware.Protect,
// so the caller and tenant are already resolved.
type RoleHandler struct {
	rbac *usecase.RBACService
}

func NewRoleHandler(rbac *usecase.RBACService) *RoleHandler {
	return &RoleHandler{rbac: rbac}
}

// ListRoles godoc
// @Summary List roles visible in the tenant
// @Tags Roles
// @Produce json
// @Param Authorization header string true "Bearer session token"
// @Param X-Tenant-ID header string true "Tenant"
// @Success 200 {object} RoleListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.rbac.ViewRoles(c.Request.Context(), actor(c), middleware.TenantFrom(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoleListResponse{Roles: newRoleList(roles)})
}

// CreateRole godoc
// @Summary Create a custom role
// @Description Creates a tenant role, or a site role when site_id is set. Entries are pinned to the role's scope. With X-Site-ID the role always belongs to that site.
// @Tags Roles
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer session token"
// @Param X-Tenant-ID header string true "Tenant"
// @Param request body RoleRequest true "Role"
// @Success 201 {object} RoleResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	spec, ok := h.bindRoleSpec(c)
	if !ok {
		return
	}

	role, err := h.rbac.CreateRole(c.Request.Context(), actor(c), spec)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RoleResponse{Role: newRolePayload(*role)})
}

// GetRole godoc
// @Summary Get a role
// @Tags Roles
// @Produce json
// @Param id path string true "Role ID"
// @Success 200 {object} RoleResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/roles/{id} [get]
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.rbac.ViewRole(c.Request.Context(), actor(c), middleware.TenantFrom(c), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoleResponse{Role: newRolePayload(*role)})
}

// UpdateRole godoc
// @Summary Replace a custom role
// @Description Replaces name, description and entries. System roles are immutable.
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path string true "Role ID"
// @Param request body RoleRequest true "Role"
// @Success 200 {object} RoleResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	spec, ok := h.bindRoleSpec(c)
	if !ok {
		return
	}

	role, err := h.rbac.UpdateRole(c.Request.Context(), actor(c), middleware.TenantFrom(c), c.Param("id"), spec)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoleResponse{Role: newRolePayload(*role)})
}

// DeleteRole godoc
// @Summary Delete a custom role
// @Description Fails with 409 while any user is still assigned.
// @Tags Roles
// @Param id path string true "Role ID"
// @Success 204 {string} string ""
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.rbac.DeleteRole(c.Request.Context(), actor(c), middleware.TenantFrom(c), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ProvisionRoles godoc
// @Summary Provision the predefined roles
// @Description Idempotently creates Admin, Editor, Author and Viewer for the tenant and, when site_id is set, for the site.
// @Tags Roles
// @Accept json
// @Produce json
// @Param request body ProvisionRequest false "Site"
// @Success 200 {object} RoleListResponse
// @Router /api/v1/roles/provision [post]
func (h *RoleHandler) ProvisionRoles(c *gin.Context) {
	var req ProvisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, "invalid provision payload")
			return
		}
	}

	roles, err := h.rbac.ProvisionRoles(c.Request.Context(), actor(c), middleware.TenantFrom(c), req.SiteID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoleListResponse{Roles: newRoleList(roles)})
}

// AssignRole godoc
// @Summary Assign a role to a user
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path string true "Role ID"
// @Param request body AssignmentRequest true "Assignment"
// @Success 201 {object} AssignmentPayload
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/roles/{id}/assignments [post]
func (h *RoleHandler) AssignRole(c *gin.Context) {
	var req AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid assignment payload")
		return
	}
	tenantID := middleware.TenantFrom(c)

	assignment, err := h.rbac.AssignRole(c.Request.Context(), actor(c), tenantID, usecase.AssignmentInput{
		UserID:   req.UserID,
		RoleID:   c.Param("id"),
		TenantID: tenantID,
		SiteID:   req.SiteID,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAssignmentPayload(*assignment))
}

// UnassignRole godoc
// @Summary Remove a role from a user
// @Tags Roles
// @Param id path string true "Role ID"
// @Param userId path string true "User ID"
// @Success 204 {string} string ""
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/roles/{id}/assignments/{userId} [delete]
func (h *RoleHandler) UnassignRole(c *gin.Context) {
	err := h.rbac.UnassignRole(c.Request.Context(), actor(c), middleware.TenantFrom(c), c.Param("userId"), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoleHandler) bindRoleSpec(c *gin.Context) (usecase.RoleSpec, bool) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid role payload")
		return usecase.RoleSpec{}, false
	}
	entries, err := parseACLEntries(req.ACLEntries)
	if err != nil {
		RespondError(c, err)
		return usecase.RoleSpec{}, false
	}
	spec := usecase.RoleSpec{
		Name:        req.Name,
		Description: req.Description,
		TenantID:    middleware.TenantFrom(c),
		SiteID:      strings.TrimSpace(req.SiteID),
		ACLEntries:  entries,
	}
	if strings.TrimSpace(req.Scope) != "" {
		scope, err := domain.ParseScope(req.Scope)
		if err != nil {
			RespondError(c, err)
			return usecase.RoleSpec{}, false
		}
		spec.Scope = scope
	}
	return spec, true
}

// callerID is the user authenticated by middleware.Protect, or empty outside a protected route.
func callerID(c *gin.Context) string {
	if principal, ok := middleware.PrincipalFrom(c); ok {
		return principal.UserID
	}
	return ""
}

// actor is the caller together with the site it was authorized at.
func actor(c *gin.Context) usecase.Actor {
	return usecase.Actor{UserID: callerID(c), SiteID: middleware.SiteFrom(c)}
}
