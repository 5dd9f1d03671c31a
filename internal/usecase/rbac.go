package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
	"github.com/arklim/zk-tenant-iam/internal/repository"
)

const (
	maxRoleNameLength = 64
	// roleDeleteMarkerTTL bounds how long a crashed delete can block new assignments.
	roleDeleteMarkerTTL = 30 * time.Second
)

// PermissionObserver records permission decisions.
type PermissionObserver interface {
	ObservePermission(granted bool)
}

// PermissionOptions narrows a permission check to a site or a single resource.
type PermissionOptions struct {
	SiteID     string
	ResourceID string
}

// RoleSpec describes a custom role to create or the new shape of an existing one.
type RoleSpec struct {
	Name        string
	Description string
	Scope       domain.Scope
	TenantID    string
	SiteID      string
	ACLEntries  []domain.ACLEntry
}

// Actor is the caller of a management operation. SiteID is the site the caller was authorized at;
// an actor with a site only manages that site's roles and bindings.
type Actor struct {
	UserID string
	SiteID string
}

func (a Actor) confine(role domain.Role) error {
	if a.SiteID == "" {
		return nil
	}
	if role.Scope != domain.ScopeSite || role.SiteID != a.SiteID {
		return domain.ErrPermissionDenied
	}
	return nil
}

func (a Actor) sees(role domain.Role) bool {
	return a.SiteID == "" || role.Scope != domain.ScopeSite || role.SiteID == a.SiteID
}

// AssignmentInput binds a user to a role.
type AssignmentInput struct {
	UserID   string
	RoleID   string
	TenantID string
	SiteID   string
}

// RBACService evaluates permissions and manages roles and assignments. Nothing is cached, so
// role changes apply to the next check.
type RBACService struct {
	roles       port.RoleRepository
	assignments port.AssignmentRepository
	users       port.UserRepository
	events      port.EventPublisher
	observer    PermissionObserver
	logger      *zap.Logger
	now         func() time.Time
}

// NewRBACService constructs an RBACService.
func NewRBACService(
	roles port.RoleRepository,
	assignments port.AssignmentRepository,
	users port.UserRepository,
	events port.EventPublisher,
	logger *zap.Logger,
) *RBACService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBACService{
		roles:       roles,
		assignments: assignments,
		users:       users,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source.
func (s *RBACService) WithClock(clock func() time.Time) *RBACService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithObserver attaches a permission decision observer.
func (s *RBACService) WithObserver(observer PermissionObserver) *RBACService {
	s.observer = observer
	return s
}

// HasPermission reports whether any role assigned to the user and visible in the tenant and site
// grants action on the resource type. A user without roles has no permissions.
func (s *RBACService) HasPermission(ctx context.Context, userID, tenantID string, resourceType domain.ResourceType, action domain.Action, opts PermissionOptions) (bool, error) {
	roles, err := s.effectiveRoles(ctx, userID, tenantID, opts.SiteID)
	if err != nil {
		return false, err
	}
	granted := domain.EvaluatePermission(roles, domain.PermissionRequest{
		TenantID:     tenantID,
		SiteID:       opts.SiteID,
		ResourceType: resourceType,
		ResourceID:   opts.ResourceID,
		Action:       action,
	})
	if s.observer != nil {
		s.observer.ObservePermission(granted)
	}
	return granted, nil
}

// HasAnyPermission reports whether at least one of the actions is granted. An empty list is false.
func (s *RBACService) HasAnyPermission(ctx context.Context, userID, tenantID string, resourceType domain.ResourceType, actions []domain.Action, opts PermissionOptions) (bool, error) {
	if len(actions) == 0 {
		return false, nil
	}
	roles, err := s.effectiveRoles(ctx, userID, tenantID, opts.SiteID)
	if err != nil {
		return false, err
	}
	for _, action := range actions {
		if domain.EvaluatePermission(roles, s.request(tenantID, resourceType, action, opts)) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every action is granted. An empty list is false.
func (s *RBACService) HasAllPermissions(ctx context.Context, userID, tenantID string, resourceType domain.ResourceType, actions []domain.Action, opts PermissionOptions) (bool, error) {
	if len(actions) == 0 {
		return false, nil
	}
	roles, err := s.effectiveRoles(ctx, userID, tenantID, opts.SiteID)
	if err != nil {
		return false, err
	}
	for _, action := range actions {
		if !domain.EvaluatePermission(roles, s.request(tenantID, resourceType, action, opts)) {
			return false, nil
		}
	}
	return true, nil
}

// EffectivePermissions lists the "resource:action" pairs the user holds in the tenant and site.
func (s *RBACService) EffectivePermissions(ctx context.Context, userID, tenantID, siteID string) ([]string, error) {
	roles, err := s.effectiveRoles(ctx, userID, tenantID, siteID)
	if err != nil {
		return nil, err
	}
	perms := domain.PermissionStrings(roles)
	sort.Strings(perms)
	return perms, nil
}

func (s *RBACService) request(tenantID string, resourceType domain.ResourceType, action domain.Action, opts PermissionOptions) domain.PermissionRequest {
	return domain.PermissionRequest{
		TenantID:     tenantID,
		SiteID:       opts.SiteID,
		ResourceType: resourceType,
		ResourceID:   opts.ResourceID,
		Action:       action,
	}
}

func (s *RBACService) effectiveRoles(ctx context.Context, userID, tenantID, siteID string) ([]domain.Role, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	assignments, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	roles := make([]domain.Role, 0, len(assignments))
	seen := make(map[string]struct{}, len(assignments))
	for _, assignment := range assignments {
		if !assignment.AppliesTo(tenantID, siteID) {
			continue
		}
		if _, ok := seen[assignment.RoleID]; ok {
			continue
		}
		role, err := s.roles.GetByID(ctx, assignment.RoleID)
		if err != nil {
			if errors.Is(err, domain.ErrRoleNotFound) {
				s.logger.Warn("assignment references missing role", zap.String("user_id", userID), zap.String("role_id", assignment.RoleID))
				continue
			}
			return nil, fmt.Errorf("load role: %w", err)
		}
		seen[role.ID] = struct{}{}
		if role.VisibleIn(tenantID, siteID) {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

// CreateRole stores a custom role. Custom roles live inside a tenant, optionally narrowed to a site.
// Roles created by an actor confined to a site always belong to that site.
func (s *RBACService) CreateRole(ctx context.Context, actor Actor, spec RoleSpec) (*domain.Role, error) {
	if actor.SiteID != "" {
		site := strings.TrimSpace(spec.SiteID)
		if (spec.Scope != "" && spec.Scope != domain.ScopeSite) || (site != "" && site != actor.SiteID) {
			return nil, domain.ErrPermissionDenied
		}
		spec.Scope, spec.SiteID = domain.ScopeSite, actor.SiteID
	}
	scope := spec.Scope
	if scope == "" {
		scope = domain.ScopeTenant
		if strings.TrimSpace(spec.SiteID) != "" {
			scope = domain.ScopeSite
		}
	}
	now := s.now().UTC()
	role := domain.Role{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(spec.Name),
		Description: strings.TrimSpace(spec.Description),
		Type:        domain.RoleTypeCustom,
		Scope:       scope,
		TenantID:    strings.TrimSpace(spec.TenantID),
		SiteID:      strings.TrimSpace(spec.SiteID),
		ACLEntries:  append([]domain.ACLEntry(nil), spec.ACLEntries...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateCustomRole(role); err != nil {
		return nil, err
	}
	role.NormalizeEntries()

	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, domain.ErrDuplicateRoleName) {
			return nil, err
		}
		return nil, fmt.Errorf("create role: %w", err)
	}
	logger.ForRequest(ctx, s.logger).Info("role created", zap.String("role_id", role.ID), zap.String("tenant_id", role.TenantID), zap.String("actor_id", actor.UserID))
	s.publishRoleChanged(ctx, domain.RoleCreated, role, actor.UserID)
	return &role, nil
}

// UpdateRole replaces the name, description and entries of a custom role visible in tenantID.
// Scope, tenant and site never change.
func (s *RBACService) UpdateRole(ctx context.Context, actor Actor, tenantID, roleID string, spec RoleSpec) (*domain.Role, error) {
	existing, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if err := actor.confine(*existing); err != nil {
		return nil, err
	}
	if existing.IsSystem() {
		return nil, domain.ErrSystemRoleImmutable
	}

	updated := *existing
	updated.Name = strings.TrimSpace(spec.Name)
	updated.Description = strings.TrimSpace(spec.Description)
	updated.ACLEntries = append([]domain.ACLEntry(nil), spec.ACLEntries...)
	updated.UpdatedAt = s.now().UTC()
	if err := validateCustomRole(updated); err != nil {
		return nil, err
	}
	updated.NormalizeEntries()

	if err := s.roles.Update(ctx, *existing, updated); err != nil {
		if errors.Is(err, domain.ErrDuplicateRoleName) {
			return nil, err
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	logger.ForRequest(ctx, s.logger).Info("role updated", zap.String("role_id", updated.ID), zap.String("actor_id", actor.UserID))
	s.publishRoleChanged(ctx, domain.RoleUpdated, updated, actor.UserID)
	return &updated, nil
}

// DeleteRole removes a custom role that nobody holds any more. A deletion marker is held from the
// holder count to the delete; AssignRole backs out of any binding it wrote while the marker was set.
func (s *RBACService) DeleteRole(ctx context.Context, actor Actor, tenantID, roleID string) error {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if err := actor.confine(*role); err != nil {
		return err
	}
	if role.IsSystem() {
		return domain.ErrSystemRoleImmutable
	}
	marked, err := s.roles.MarkDeleting(ctx, role.ID, roleDeleteMarkerTTL)
	if err != nil {
		return err
	}
	if !marked {
		return domain.ErrRoleDeleting
	}
	defer func() {
		if err := s.roles.ClearDeleting(context.WithoutCancel(ctx), role.ID); err != nil {
			s.logger.Warn("clear role deletion marker failed", zap.String("role_id", role.ID), zap.Error(err))
		}
	}()

	holders, err := s.assignments.CountByRole(ctx, role.ID)
	if err != nil {
		return fmt.Errorf("count role assignments: %w", err)
	}
	if holders > 0 {
		return domain.ErrRoleInUse
	}
	if err := s.roles.Delete(ctx, *role); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	logger.ForRequest(ctx, s.logger).Info("role deleted", zap.String("role_id", role.ID), zap.String("actor_id", actor.UserID))
	s.publishRoleChanged(ctx, domain.RoleDeleted, *role, actor.UserID)
	return nil
}

// GetRole loads a role visible from tenantID. Roles of other tenants are reported as not found.
func (s *RBACService) GetRole(ctx context.Context, tenantID, roleID string) (*domain.Role, error) {
	role, err := s.roles.GetByID(ctx, strings.TrimSpace(roleID))
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	if role.Scope != domain.ScopeGlobal && role.TenantID != tenantID {
		return nil, domain.ErrRoleNotFound
	}
	return role, nil
}

// ViewRole is GetRole for actor: roles of other sites are not found.
func (s *RBACService) ViewRole(ctx context.Context, actor Actor, tenantID, roleID string) (*domain.Role, error) {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if !actor.sees(*role) {
		return nil, domain.ErrRoleNotFound
	}
	return role, nil
}

// ViewRoles is ListRoles without the roles of sites the actor is not confined to.
func (s *RBACService) ViewRoles(ctx context.Context, actor Actor, tenantID string) ([]domain.Role, error) {
	roles, err := s.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	visible := roles[:0]
	for _, role := range roles {
		if actor.sees(role) {
			visible = append(visible, role)
		}
	}
	return visible, nil
}

// ListRoles returns the roles of a tenant followed by the global roles.
func (s *RBACService) ListRoles(ctx context.Context, tenantID string) ([]domain.Role, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	tenantRoles, err := s.roles.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	globalRoles, err := s.roles.ListByTenant(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list global roles: %w", err)
	}
	return append(tenantRoles, globalRoles...), nil
}

// ProvisionPredefinedRoles creates the Admin, Editor, Author and Viewer system roles for a tenant
// and, when siteID is set, a parallel site-scoped set. Roles that already exist are reused.
func (s *RBACService) ProvisionPredefinedRoles(ctx context.Context, tenantID, siteID string) ([]domain.Role, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	siteID = strings.TrimSpace(siteID)
	if siteID != "" {
		if err := domain.ValidateSiteID(siteID); err != nil {
			return nil, err
		}
	}
	provisioned, err := s.provisionSet(ctx, domain.ScopeTenant, tenantID, "")
	if err != nil {
		return nil, err
	}
	if siteID != "" {
		siteRoles, err := s.provisionSet(ctx, domain.ScopeSite, tenantID, siteID)
		if err != nil {
			return nil, err
		}
		provisioned = append(provisioned, siteRoles...)
	}
	return provisioned, nil
}

// ProvisionRoles runs ProvisionPredefinedRoles for actor. An actor confined to a site only
// provisions that site's set.
func (s *RBACService) ProvisionRoles(ctx context.Context, actor Actor, tenantID, siteID string) ([]domain.Role, error) {
	siteID = strings.TrimSpace(siteID)
	if actor.SiteID == "" {
		return s.ProvisionPredefinedRoles(ctx, tenantID, siteID)
	}
	if siteID != "" && siteID != actor.SiteID {
		return nil, domain.ErrPermissionDenied
	}
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	return s.provisionSet(ctx, domain.ScopeSite, tenantID, actor.SiteID)
}

func (s *RBACService) provisionSet(ctx context.Context, scope domain.Scope, tenantID, siteID string) ([]domain.Role, error) {
	templates := domain.PredefinedRoleTemplates()
	out := make([]domain.Role, 0, len(templates))
	for _, tpl := range templates {
		role, err := s.ensureSystemRole(ctx, scope, tenantID, siteID, tpl)
		if err != nil {
			return nil, err
		}
		out = append(out, *role)
	}
	return out, nil
}

// EnsureGlobalRoles provisions the Platform Admin role.
func (s *RBACService) EnsureGlobalRoles(ctx context.Context) ([]domain.Role, error) {
	role, err := s.ensureSystemRole(ctx, domain.ScopeGlobal, "", "", domain.PlatformAdminTemplate())
	if err != nil {
		return nil, err
	}
	return []domain.Role{*role}, nil
}

func (s *RBACService) ensureSystemRole(ctx context.Context, scope domain.Scope, tenantID, siteID string, tpl domain.RoleTemplate) (*domain.Role, error) {
	existing, err := s.roles.FindByName(ctx, tenantID, scope, siteID, tpl.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrRoleNotFound) {
		return nil, fmt.Errorf("find role %q: %w", tpl.Name, err)
	}

	now := s.now().UTC()
	role := domain.Role{
		ID:          uuid.NewString(),
		Name:        tpl.Name,
		Description: tpl.Description,
		Type:        domain.RoleTypeSystem,
		Scope:       scope,
		TenantID:    tenantID,
		SiteID:      siteID,
		ACLEntries:  append([]domain.ACLEntry(nil), tpl.Grants...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	role.NormalizeEntries()
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, domain.ErrDuplicateRoleName) {
			// Lost a race with a concurrent provisioner.
			return s.roles.FindByName(ctx, tenantID, scope, siteID, tpl.Name)
		}
		return nil, fmt.Errorf("create role %q: %w", tpl.Name, err)
	}
	s.logger.Info("system role provisioned", zap.String("role", role.Name), zap.String("scope", string(scope)), zap.String("tenant_id", tenantID), zap.String("site_id", siteID))
	s.publishRoleChanged(ctx, domain.RoleCreated, role, "system")
	return &role, nil
}

// AssignRole binds a user to a role visible from tenantID. Tenant and site roles are always bound
// inside their own tenant and site. Global roles can only be handed out by holders of a global
// role:manage grant.
func (s *RBACService) AssignRole(ctx context.Context, actor Actor, tenantID string, input AssignmentInput) (*domain.RoleAssignment, error) {
	role, err := s.GetRole(ctx, tenantID, input.RoleID)
	if err != nil {
		return nil, err
	}
	if err := actor.confine(*role); err != nil {
		return nil, err
	}
	if err := s.requireGlobalManage(ctx, actor.UserID, *role); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(input.UserID)
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	assignment := domain.RoleAssignment{
		UserID:     userID,
		RoleID:     role.ID,
		TenantID:   strings.TrimSpace(input.TenantID),
		SiteID:     strings.TrimSpace(input.SiteID),
		AssignedAt: s.now().UTC(),
		AssignedBy: actor.UserID,
	}
	switch role.Scope {
	case domain.ScopeTenant:
		assignment.TenantID, assignment.SiteID = role.TenantID, ""
	case domain.ScopeSite:
		assignment.TenantID, assignment.SiteID = role.TenantID, role.SiteID
	}
	if assignment.SiteID != "" {
		if assignment.TenantID == "" {
			return nil, domain.ErrInvalidScope
		}
		if err := domain.ValidateSiteID(assignment.SiteID); err != nil {
			return nil, err
		}
	}

	if err := s.ensureRoleLive(ctx, role.ID); err != nil {
		return nil, err
	}
	existing, err := s.findBinding(ctx, assignment)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := s.assignments.Assign(ctx, assignment); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	// A delete that counted holders before the write above is still holding its marker, or is done.
	if err := s.ensureRoleLive(ctx, role.ID); err != nil {
		if rbErr := s.assignments.Unassign(context.WithoutCancel(ctx), assignment.UserID, assignment.RoleID, assignment.TenantID, assignment.SiteID); rbErr != nil {
			s.logger.Error("roll back assignment to deleted role failed", zap.String("user_id", userID), zap.String("role_id", role.ID), zap.Error(rbErr))
		}
		return nil, err
	}
	logger.ForRequest(ctx, s.logger).Info("role assigned", zap.String("user_id", userID), zap.String("role_id", role.ID), zap.String("actor_id", actor.UserID))
	s.publishAssignment(ctx, true, assignment, *role, actor.UserID)
	return &assignment, nil
}

func (s *RBACService) ensureRoleLive(ctx context.Context, roleID string) error {
	deleting, err := s.roles.IsDeleting(ctx, roleID)
	if err != nil {
		return err
	}
	if deleting {
		return domain.ErrRoleDeleting
	}
	if _, err := s.roles.GetByID(ctx, roleID); err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return err
		}
		return fmt.Errorf("reload role: %w", err)
	}
	return nil
}

func (s *RBACService) findBinding(ctx context.Context, want domain.RoleAssignment) (*domain.RoleAssignment, error) {
	assignments, err := s.assignments.ListByUser(ctx, want.UserID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range assignments {
		if a.RoleID == want.RoleID && a.TenantID == want.TenantID && a.SiteID == want.SiteID {
			return &a, nil
		}
	}
	return nil, nil
}

// UnassignRole removes every binding of the user to the role.
func (s *RBACService) UnassignRole(ctx context.Context, actor Actor, tenantID, userID, roleID string) error {
	role, err := s.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if err := actor.confine(*role); err != nil {
		return err
	}
	if err := s.requireGlobalManage(ctx, actor.UserID, *role); err != nil {
		return err
	}
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	assignments, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	removed := 0
	for _, a := range assignments {
		if a.RoleID != role.ID {
			continue
		}
		if err := s.assignments.Unassign(ctx, a.UserID, a.RoleID, a.TenantID, a.SiteID); err != nil {
			return fmt.Errorf("unassign role: %w", err)
		}
		removed++
		s.publishAssignment(ctx, false, a, *role, actor.UserID)
	}
	logger.ForRequest(ctx, s.logger).Info("role unassigned", zap.String("user_id", userID), zap.String("role_id", role.ID), zap.Int("bindings", removed))
	return nil
}

// GrantPlatformAdmin binds the user to the Platform Admin role in every tenant. It skips the
// actor check and is meant for bootstrap only.
func (s *RBACService) GrantPlatformAdmin(ctx context.Context, userID string) error {
	roles, err := s.EnsureGlobalRoles(ctx)
	if err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	assignment := domain.RoleAssignment{
		UserID:     userID,
		RoleID:     roles[0].ID,
		AssignedAt: s.now().UTC(),
		AssignedBy: "system",
	}
	if err := s.assignments.Assign(ctx, assignment); err != nil {
		return fmt.Errorf("assign platform admin: %w", err)
	}
	s.logger.Info("platform admin granted", zap.String("user_id", userID))
	return nil
}

// ListAssignments returns every role binding of the user.
func (s *RBACService) ListAssignments(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	assignments, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// AuthorizeAccountChange decides whether actor may lock or unlock userID from tenantID. Accounts
// are shared by all tenants, so a tenant grant only reaches users bound nowhere but that tenant
// (and, for a site-confined actor, nowhere but that site). Everyone else needs a global
// user:manage grant. Users with no binding in the tenant are reported as not found.
func (s *RBACService) AuthorizeAccountChange(ctx context.Context, actor Actor, tenantID, userID string) error {
	global, err := s.HasPermission(ctx, actor.UserID, "", domain.ResourceUser, domain.ActionManage, PermissionOptions{})
	if err != nil {
		return err
	}
	if global {
		return nil
	}
	assignments, err := s.assignments.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	member, contained := false, true
	for _, a := range assignments {
		if a.TenantID == tenantID {
			member = true
		}
		if a.TenantID != tenantID || (actor.SiteID != "" && a.SiteID != actor.SiteID) {
			contained = false
		}
	}
	if !member {
		return domain.ErrUserNotFound
	}
	if !contained {
		return domain.ErrPermissionDenied
	}
	return nil
}

func (s *RBACService) requireGlobalManage(ctx context.Context, actorID string, role domain.Role) error {
	if role.Scope != domain.ScopeGlobal {
		return nil
	}
	ok, err := s.HasPermission(ctx, actorID, "", domain.ResourceRole, domain.ActionManage, PermissionOptions{})
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPermissionDenied
	}
	return nil
}

func validateCustomRole(role domain.Role) error {
	if role.Name == "" || len(role.Name) > maxRoleNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", domain.ErrInvalidRoleName, maxRoleNameLength)
	}
	switch role.Scope {
	case domain.ScopeTenant:
		if role.SiteID != "" {
			return domain.ErrInvalidScope
		}
	case domain.ScopeSite:
		if role.SiteID == "" {
			return domain.ErrInvalidScope
		}
	default:
		return domain.ErrInvalidScope
	}
	if err := domain.ValidateTenantID(role.TenantID); err != nil {
		return err
	}
	if role.Scope == domain.ScopeSite {
		if err := domain.ValidateSiteID(role.SiteID); err != nil {
			return err
		}
	}
	if len(role.ACLEntries) == 0 {
		return domain.ErrRoleACLRequired
	}
	for _, entry := range role.ACLEntries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RBACService) publishRoleChanged(ctx context.Context, change domain.RoleChange, role domain.Role, actorID string) {
	if s.events == nil {
		return
	}
	event := domain.RoleChangedEvent{
		EventID:   uuid.NewString(),
		Change:    change,
		RoleID:    role.ID,
		RoleName:  role.Name,
		TenantID:  role.TenantID,
		SiteID:    role.SiteID,
		Scope:     role.Scope,
		ChangedBy: actorID,
		ChangedAt: s.now().UTC(),
	}
	if err := s.events.PublishRoleChanged(ctx, event); err != nil {
		s.logger.Warn("publish role change failed", zap.String("role_id", role.ID), zap.String("change", string(change)), zap.Error(err))
	}
}

func (s *RBACService) publishAssignment(ctx context.Context, assigned bool, a domain.RoleAssignment, role domain.Role, actorID string) {
	if s.events == nil {
		return
	}
	event := domain.RoleAssignmentEvent{
		EventID:    uuid.NewString(),
		Assigned:   assigned,
		UserID:     a.UserID,
		RoleID:     role.ID,
		RoleName:   role.Name,
		TenantID:   a.TenantID,
		SiteID:     a.SiteID,
		Actor:      actorID,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishRoleAssignment(ctx, event); err != nil {
		s.logger.Warn("publish role assignment failed", zap.String("role_id", role.ID), zap.String("user_id", a.UserID), zap.Error(err))
	}
}

// Authorize answers a single permission request for the user.
func (s *RBACService) Authorize(ctx context.Context, userID string, req domain.PermissionRequest) (bool, error) {
	return s.HasPermission(ctx, userID, req.TenantID, req.ResourceType, req.Action, PermissionOptions{SiteID: req.SiteID, ResourceID: req.ResourceID})
}
