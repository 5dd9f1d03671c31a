package domain

import "time"

// UserRegisteredEvent represents the payload for iam.user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Username     string
	RegisteredAt time.Time
	ProofEngine  string
	Metadata     map[string]any
}

// PasswordResetRequestedEvent represents the payload for iam.user.password.reset_requested messages.
// The raw token is carried so an out-of-band delivery service can hand it to the user.
type PasswordResetRequestedEvent struct {
	EventID     string
	UserID      string
	Username    string
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time
	IPAddress   *string
	Metadata    map[string]any
}

// PasswordResetConfirmedEvent represents the payload for iam.user.password.reset_confirmed messages.
type PasswordResetConfirmedEvent struct {
	EventID         string
	UserID          string
	ConfirmedAt     time.Time
	SaltRotated     bool
	SessionsRevoked bool
	Metadata        map[string]any
}

// RoleChange enumerates role lifecycle transitions.
type RoleChange string

const (
	RoleCreated RoleChange = "created"
	RoleUpdated RoleChange = "updated"
	RoleDeleted RoleChange = "deleted"
)

// RoleChangedEvent represents the payload for iam.role.created|updated|deleted messages.
type RoleChangedEvent struct {
	EventID   string
	Change    RoleChange
	RoleID    string
	RoleName  string
	TenantID  string
	SiteID    string
	Scope     Scope
	ChangedBy string
	ChangedAt time.Time
	Metadata  map[string]any
}

// RoleAssignmentEvent represents the payload for iam.role.assigned and iam.role.unassigned messages.
type RoleAssignmentEvent struct {
	EventID    string
	Assigned   bool
	UserID     string
	RoleID     string
	RoleName   string
	TenantID   string
	SiteID     string
	Actor      string
	OccurredAt time.Time
	Metadata   map[string]any
}

// AuditOutcome is the result recorded for a protected operation.
type AuditOutcome string

const (
	AuditAttempt   AuditOutcome = "attempt"
	AuditSucceeded AuditOutcome = "succeeded"
	AuditFailed    AuditOutcome = "failed"
	AuditDenied    AuditOutcome = "denied"
)

// AuditEvent is a single access decision or outcome for a protected operation.
type AuditEvent struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id,omitempty"`
	TenantID   string       `json:"tenant_id,omitempty"`
	SiteID     string       `json:"site_id,omitempty"`
	Operation  string       `json:"operation"`
	Action     Action       `json:"action,omitempty"`
	Resource   ResourceType `json:"resource,omitempty"`
	ResourceID string       `json:"resource_id,omitempty"`
	Stage      string       `json:"stage"`
	Outcome    AuditOutcome `json:"outcome"`
	Reason     ErrorKind    `json:"reason,omitempty"`
	RequestID  string       `json:"request_id,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
