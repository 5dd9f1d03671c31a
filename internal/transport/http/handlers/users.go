package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

// UserHandler exposes account administration: lock state and role assignments.
type UserHandler struct {
	identity *usecase.IdentityService
	rbac     *usecase.RBACService
}

func NewUserHandler(identity *usecase.IdentityService, rbac *usecase.RBACService) *UserHandler {
	return &UserHandler{identity: identity, rbac: rbac}
}

// Lock godoc
// @Summary Lock an account
// @Tags Users
// @Produce json
// @Description Tenant grants reach only users bound inside the tenant; anyone else needs a global user:manage grant.
// @Param user path string true "Username"
// @Success 200 {object} UserSummary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/users/{user}/lock [post]
func (h *UserHandler) Lock(c *gin.Context) {
	h.setLocked(c, true)
}

// Unlock godoc
// @Summary Unlock an account and clear its login counter
// @Tags Users
// @Produce json
// @Param user path string true "Username"
// @Success 200 {object} UserSummary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/users/{user}/unlock [post]
func (h *UserHandler) Unlock(c *gin.Context) {
	h.setLocked(c, false)
}

func (h *UserHandler) setLocked(c *gin.Context, locked bool) {
	ctx := c.Request.Context()
	target, err := h.identity.LookupUser(ctx, c.Param("user"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if err := h.rbac.AuthorizeAccountChange(ctx, actor(c), middleware.TenantFrom(c), target.ID); err != nil {
		RespondError(c, err)
		return
	}
	user, err := h.identity.SetLocked(ctx, target.Username, locked)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserSummary(*user))
}

// Assignments godoc
// @Summary List a user's role assignments
// @Tags Users
// @Produce json
// @Param user path string true "User ID"
// @Success 200 {object} AssignmentListResponse
// @Router /api/v1/users/{user}/assignments [get]
func (h *UserHandler) Assignments(c *gin.Context) {
	assignments, err := h.rbac.ListAssignments(c.Request.Context(), c.Param("user"))
	if err != nil {
		RespondError(c, err)
		return
	}
	tenantID := middleware.TenantFrom(c)
	out := make([]AssignmentPayload, 0, len(assignments))
	for _, a := range assignments {
		// Only bindings that apply inside the caller's tenant are visible to it.
		if a.TenantID != "" && a.TenantID != tenantID {
			continue
		}
		out = append(out, newAssignmentPayload(a))
	}
	c.JSON(http.StatusOK, AssignmentListResponse{Assignments: out})
}

var errAuditUnavailable = errors.New("audit repository not configured")

// AuditHandler reads the persisted audit trail of a tenant.
type AuditHandler struct {
	repo port.AuditRepository
}

func NewAuditHandler(repo port.AuditRepository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

// List godoc
// @Summary List recent audit events of the tenant
// @Tags Audit
// @Produce json
// @Param limit query int false "Maximum events (default 100, max 1000)"
// @Success 200 {object} AuditListResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	if h == nil || h.repo == nil {
		_ = c.Error(errAuditUnavailable)
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "audit trail not configured"))
		return
	}
	var limit uint64
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondBadRequest(c, err, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := h.repo.ListByTenant(c.Request.Context(), middleware.TenantFrom(c), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuditListResponse{Events: events})
}
