package domain

import (
	"regexp"
	"strings"
	"time"
)

// Action is an operation that an ACL entry can grant.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionManage implies every other action on the same resource type.
	ActionManage Action = "manage"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage:
		return a, nil
	default:
		return "", ErrUnknownAction
	}
}

// ResourceType is the closed set of resource kinds permissions are expressed over.
type ResourceType string

const (
	ResourceListing  ResourceType = "listing"
	ResourceCategory ResourceType = "category"
	ResourceProduct  ResourceType = "product"
	ResourceMedia    ResourceType = "media"
	ResourceUser     ResourceType = "user"
	ResourceRole     ResourceType = "role"
	ResourceTenant   ResourceType = "tenant"
	ResourceSite     ResourceType = "site"
	ResourceSettings ResourceType = "settings"
	ResourceAudit    ResourceType = "audit"
)

var resourceTypes = []ResourceType{
	ResourceListing, ResourceCategory, ResourceProduct, ResourceMedia, ResourceUser,
	ResourceRole, ResourceTenant, ResourceSite, ResourceSettings, ResourceAudit,
}

// AllResourceTypes returns every known resource type.
func AllResourceTypes() []ResourceType {
	out := make([]ResourceType, len(resourceTypes))
	copy(out, resourceTypes)
	return out
}

// ParseResourceType rejects resource names outside the closed set.
func ParseResourceType(raw string) (ResourceType, error) {
	candidate := ResourceType(strings.ToLower(strings.TrimSpace(raw)))
	for _, rt := range resourceTypes {
		if rt == candidate {
			return rt, nil
		}
	}
	return "", ErrUnknownResourceType
}

// RoleType distinguishes provisioned roles from tenant-defined ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "system"
	RoleTypeCustom RoleType = "custom"
)

// Scope is the visibility level of a role.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeTenant Scope = "tenant"
	ScopeSite   Scope = "site"
)

// ParseScope validates a raw scope name.
func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case ScopeGlobal, ScopeTenant, ScopeSite:
		return s, nil
	default:
		return "", ErrInvalidScope
	}
}

var (
	tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	userIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)
)

// ValidateTenantID checks the identifier alphabet used for tenant ids.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}

// ValidateSiteID applies the tenant id alphabet to site ids.
func ValidateSiteID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return ErrInvalidSiteID
	}
	return nil
}

// ValidateUserID accepts the ids handed out at registration. Key separators and glob
// metacharacters never pass.
func ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return ErrInvalidUserID
	}
	return nil
}

// ACLEntry grants one action on one resource type. Empty TenantID means the grant is global,
// a SiteID narrows it to one site and a ResourceID to a single instance.
type ACLEntry struct {
	ResourceType ResourceType `json:"resource_type"`
	Action       Action       `json:"action"`
	TenantID     string       `json:"tenant_id,omitempty"`
	SiteID       string       `json:"site_id,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
}

// Validate ensures the entry references known resource types and actions.
func (e ACLEntry) Validate() error {
	if _, err := ParseResourceType(string(e.ResourceType)); err != nil {
		return err
	}
	if _, err := ParseAction(string(e.Action)); err != nil {
		return err
	}
	if e.SiteID != "" && e.TenantID == "" {
		return ErrInvalidScope
	}
	return nil
}

// Grants reports whether the entry authorises the request.
func (e ACLEntry) Grants(req PermissionRequest) bool {
	if e.ResourceType != req.ResourceType {
		return false
	}
	if e.Action != req.Action && e.Action != ActionManage {
		return false
	}
	if e.TenantID != "" && e.TenantID != req.TenantID {
		return false
	}
	if e.SiteID != "" && e.SiteID != req.SiteID {
		return false
	}
	if e.ResourceID != "" && e.ResourceID != req.ResourceID {
		return false
	}
	return true
}

// Role is a named collection of ACL entries.
type Role struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        RoleType   `json:"type"`
	Scope       Scope      `json:"scope"`
	TenantID    string     `json:"tenant_id,omitempty"`
	SiteID      string     `json:"site_id,omitempty"`
	ACLEntries  []ACLEntry `json:"acl_entries"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsSystem reports whether the role is provisioned and therefore immutable.
func (r Role) IsSystem() bool {
	return r.Type == RoleTypeSystem
}

// VisibleIn reports whether the role applies inside the given tenant and site.
func (r Role) VisibleIn(tenantID, siteID string) bool {
	switch r.Scope {
	case ScopeGlobal:
		return true
	case ScopeTenant:
		return r.TenantID != "" && r.TenantID == tenantID
	case ScopeSite:
		return r.TenantID == tenantID && r.SiteID != "" && r.SiteID == siteID
	default:
		return false
	}
}

// Grants reports whether any of the role's entries authorises the request.
func (r Role) Grants(req PermissionRequest) bool {
	if !r.VisibleIn(req.TenantID, req.SiteID) {
		return false
	}
	for _, entry := range r.ACLEntries {
		if entry.Grants(req) {
			return true
		}
	}
	return false
}

// NormalizeEntries pins every entry to the role's own tenant and site so a tenant role cannot
// carry grants for a different tenant.
func (r *Role) NormalizeEntries() {
	if r.Scope == ScopeGlobal {
		return
	}
	for i := range r.ACLEntries {
		r.ACLEntries[i].TenantID = r.TenantID
		if r.Scope == ScopeSite {
			r.ACLEntries[i].SiteID = r.SiteID
		}
	}
}

// NameKey is the uniqueness key of a role name inside its scope.
func (r Role) NameKey() string {
	return RoleNameKey(r.TenantID, r.Scope, r.SiteID, r.Name)
}

// RoleNameKey builds the case-insensitive uniqueness key for a role name.
func RoleNameKey(tenantID string, scope Scope, siteID, name string) string {
	return strings.Join([]string{orUnderscore(tenantID), string(scope), orUnderscore(siteID), strings.ToLower(strings.TrimSpace(name))}, ":")
}

func orUnderscore(v string) string {
	if v == "" {
		return "_"
	}
	return v
}

// RoleAssignment binds a user to a role inside a tenant (and optionally a site).
type RoleAssignment struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by"`
}

// AppliesTo reports whether the assignment is in effect for the tenant and site.
// Assignments without a tenant apply everywhere.
func (a RoleAssignment) AppliesTo(tenantID, siteID string) bool {
	if a.TenantID != "" && a.TenantID != tenantID {
		return false
	}
	if a.SiteID != "" && a.SiteID != siteID {
		return false
	}
	return true
}

// PermissionRequest is a single authorisation question.
type PermissionRequest struct {
	TenantID     string
	SiteID       string
	ResourceType ResourceType
	ResourceID   string
	Action       Action
}

// EvaluatePermission returns true when any role grants the request. Grants are unioned; there are no denies.
func EvaluatePermission(roles []Role, req PermissionRequest) bool {
	for _, role := range roles {
		if role.Grants(req) {
			return true
		}
	}
	return false
}

// PermissionStrings flattens the entries of the roles into "resource:action" strings.
func PermissionStrings(roles []Role) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, role := range roles {
		for _, entry := range role.ACLEntries {
			key := string(entry.ResourceType) + ":" + string(entry.Action)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}
