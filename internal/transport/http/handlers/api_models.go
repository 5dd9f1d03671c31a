package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is only set where a client can act on it, e.g. token_expired.
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// SuccessResponse acknowledges an operation without a body of its own.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// UserSummary describes a minimal view of a user returned by the API. Key material is never included.
type UserSummary struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Locked      bool       `json:"locked"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SaltResponse carries the salt the client feeds into key derivation.
type SaltResponse struct {
	Salt string `json:"salt"`
}

// RegisterRequest defines the registration payload. The secret stays on the client.
type RegisterRequest struct {
	Username  string `json:"username" binding:"required"`
	PublicKey string `json:"public_key" binding:"required"`
	Salt      string `json:"salt" binding:"required"`
}

// RegisterResponse is returned for a created account.
type RegisterResponse struct {
	User UserSummary `json:"user"`
}

// VerifyRequest is a proof-based login attempt.
type VerifyRequest struct {
	Username      string       `json:"username" binding:"required"`
	Proof         domain.Proof `json:"proof"`
	PublicSignals []string     `json:"publicSignals" binding:"required"`
}

// VerifyResponse describes the session issued by a successful login.
type VerifyResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	ExpiresIn int         `json:"expires_in"`
	User      UserSummary `json:"user"`
}

// ResetRequest starts a password reset.
type ResetRequest struct {
	Username string `json:"username" binding:"required"`
}

// ResetRequestResponse is identical for known and unknown users. Token is only set in development.
type ResetRequestResponse struct {
	Success   bool       `json:"success"`
	Token     *string    `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ResetConfirmRequest completes a reset with a proof made with the current secret.
type ResetConfirmRequest struct {
	Token         string       `json:"token" binding:"required"`
	Username      string       `json:"username" binding:"required"`
	Proof         domain.Proof `json:"proof"`
	PublicSignals []string     `json:"publicSignals" binding:"required"`
	RotateSalt    bool         `json:"rotate_salt"`
	NewSalt       string       `json:"new_salt"`
}

// CSRFResponse returns the token that must be echoed in X-CSRF-Token.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// ACLEntryPayload describes a single grant in role operations.
type ACLEntryPayload struct {
	ResourceType string `json:"resource_type" binding:"required"`
	Action       string `json:"action" binding:"required"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// RoleRequest defines the payload for creating or replacing a role.
type RoleRequest struct {
	Name        string            `json:"name" binding:"required"`
	Description string            `json:"description"`
	Scope       string            `json:"scope"`
	SiteID      string            `json:"site_id"`
	ACLEntries  []ACLEntryPayload `json:"acl_entries"`
}

// RolePayload is the API view of a role.
type RolePayload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        domain.RoleType   `json:"type"`
	Scope       domain.Scope      `json:"scope"`
	TenantID    string            `json:"tenant_id,omitempty"`
	SiteID      string            `json:"site_id,omitempty"`
	ACLEntries  []ACLEntryPayload `json:"acl_entries"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RoleResponse wraps a single role.
type RoleResponse struct {
	Role RolePayload `json:"role"`
}

// RoleListResponse wraps multiple roles.
type RoleListResponse struct {
	Roles []RolePayload `json:"roles"`
}

// ProvisionRequest selects the optional site for which a parallel role set is provisioned.
type ProvisionRequest struct {
	SiteID string `json:"site_id"`
}

// AssignmentRequest binds a user to the role in the path.
type AssignmentRequest struct {
	UserID string `json:"user_id" binding:"required"`
	SiteID string `json:"site_id"`
}

// AssignmentPayload is the API view of a role assignment.
type AssignmentPayload struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by"`
}

// AssignmentListResponse wraps a user's assignments.
type AssignmentListResponse struct {
	Assignments []AssignmentPayload `json:"assignments"`
}

// PermissionCheckRequest asks whether the caller may perform one or more actions.
type PermissionCheckRequest struct {
	ResourceType string   `json:"resource_type" binding:"required"`
	Actions      []string `json:"actions" binding:"required"`
	// Mode is "any" or "all"; defaults to "all".
	Mode       string `json:"mode"`
	ResourceID string `json:"resource_id"`
}

// PermissionCheckResponse is the decision.
type PermissionCheckResponse struct {
	Allowed bool `json:"allowed"`
}

// EffectivePermissionsResponse lists resource:action pairs the caller holds in the tenant.
type EffectivePermissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// AuditListResponse wraps stored audit events.
type AuditListResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newUserSummary(user domain.UserCredential) UserSummary {
	return UserSummary{
		ID:          user.ID,
		Username:    user.Username,
		Locked:      user.Locked,
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt,
	}
}

func newRolePayload(role domain.Role) RolePayload {
	entries := make([]ACLEntryPayload, 0, len(role.ACLEntries))
	for _, e := range role.ACLEntries {
		entries = append(entries, ACLEntryPayload{
			ResourceType: string(e.ResourceType),
			Action:       string(e.Action),
			ResourceID:   e.ResourceID,
		})
	}
	return RolePayload{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Type:        role.Type,
		Scope:       role.Scope,
		TenantID:    role.TenantID,
		SiteID:      role.SiteID,
		ACLEntries:  entries,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func newRoleList(roles []domain.Role) []RolePayload {
	out := make([]RolePayload, 0, len(roles))
	for _, role := range roles {
		out = append(out, newRolePayload(role))
	}
	return out
}

func newAssignmentPayload(a domain.RoleAssignment) AssignmentPayload {
	return AssignmentPayload{
		UserID:     a.UserID,
		RoleID:     a.RoleID,
		TenantID:   a.TenantID,
		SiteID:     a.SiteID,
		AssignedAt: a.AssignedAt,
		AssignedBy: a.AssignedBy,
	}
}

// parseACLEntries validates resource types and actions at the boundary.
func parseACLEntries(payload []ACLEntryPayload) ([]domain.ACLEntry, error) {
	entries := make([]domain.ACLEntry, 0, len(payload))
	for _, p := range payload {
		rt, err := domain.ParseResourceType(p.ResourceType)
		if err != nil {
			return nil, err
		}
		action, err := domain.ParseAction(p.Action)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.ACLEntry{ResourceType: rt, Action: action, ResourceID: p.ResourceID})
	}
	return entries, nil
}
