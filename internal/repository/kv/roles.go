package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// RoleRepository stores role documents under role:<id> and a unique name index under role-name:<key>.
type RoleRepository struct {
	store port.CredentialStore
}

var _ port.RoleRepository = (*RoleRepository)(nil)

// NewRoleRepository constructs the repository.
func NewRoleRepository(store port.CredentialStore) *RoleRepository {
	return &RoleRepository{store: store}
}

func roleKey(id string) string {
	return "role:" + id
}

func roleNameKey(nameKey string) string {
	return "role-name:" + nameKey
}

func roleDeletingKey(id string) string {
	return "role-deleting:" + id
}

// Create claims the name index first so duplicate names in one scope are rejected atomically.
func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	ok, err := r.store.SetNX(ctx, roleNameKey(role.NameKey()), role.ID, 0)
	if err != nil {
		return fmt.Errorf("claim role name: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateRoleName
	}
	if err := r.put(ctx, role); err != nil {
		_ = r.store.Del(ctx, roleNameKey(role.NameKey()))
		return err
	}
	return nil
}

func (r *RoleRepository) put(ctx context.Context, role domain.Role) error {
	payload, err := encode(role)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, roleKey(role.ID), payload, 0); err != nil {
		return fmt.Errorf("store role: %w", err)
	}
	return nil
}

// GetByID returns domain.ErrRoleNotFound for unknown ids.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	var role domain.Role
	if err := getJSON(ctx, r.store, roleKey(id), &role); err != nil {
		if isNotFound(err) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// FindByName looks a role up through the name index.
func (r *RoleRepository) FindByName(ctx context.Context, tenantID string, scope domain.Scope, siteID, name string) (*domain.Role, error) {
	id, err := r.store.Get(ctx, roleNameKey(domain.RoleNameKey(tenantID, scope, siteID, name)))
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, fmt.Errorf("lookup role name: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Update stores role, moving the name index when the name changed.
func (r *RoleRepository) Update(ctx context.Context, previous, role domain.Role) error {
	oldKey, newKey := previous.NameKey(), role.NameKey()
	if oldKey != newKey {
		ok, err := r.store.SetNX(ctx, roleNameKey(newKey), role.ID, 0)
		if err != nil {
			return fmt.Errorf("claim role name: %w", err)
		}
		if !ok {
			return domain.ErrDuplicateRoleName
		}
	}
	if err := r.put(ctx, role); err != nil {
		if oldKey != newKey {
			_ = r.store.Del(ctx, roleNameKey(newKey))
		}
		return err
	}
	if oldKey != newKey {
		if err := r.store.Del(ctx, roleNameKey(oldKey)); err != nil {
			return fmt.Errorf("release role name: %w", err)
		}
	}
	return nil
}

// Delete removes the document and its name index.
func (r *RoleRepository) Delete(ctx context.Context, role domain.Role) error {
	if err := r.store.Del(ctx, roleKey(role.ID), roleNameKey(role.NameKey())); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// ListByTenant returns the roles defined in tenantID (all scopes). An empty tenant lists global roles.
func (r *RoleRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Role, error) {
	keys, err := r.store.Keys(ctx, "role-name:"+literal(orUnderscore(tenantID))+":*")
	if err != nil {
		return nil, fmt.Errorf("list role names: %w", err)
	}
	roles := make([]domain.Role, 0, len(keys))
	for _, key := range keys {
		id, err := r.store.Get(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("read role name: %w", err)
		}
		role, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrRoleNotFound) {
				continue
			}
			return nil, err
		}
		roles = append(roles, *role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Scope != roles[j].Scope {
			return roles[i].Scope > roles[j].Scope
		}
		if roles[i].SiteID != roles[j].SiteID {
			return roles[i].SiteID < roles[j].SiteID
		}
		return strings.ToLower(roles[i].Name) < strings.ToLower(roles[j].Name)
	})
	return roles, nil
}

// MarkDeleting sets the deletion marker unless another delete holds it.
func (r *RoleRepository) MarkDeleting(ctx context.Context, roleID string, ttl time.Duration) (bool, error) {
	ok, err := r.store.SetNX(ctx, roleDeletingKey(roleID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("mark role deleting: %w", err)
	}
	return ok, nil
}

// IsDeleting reports whether a delete of roleID is in flight.
func (r *RoleRepository) IsDeleting(ctx context.Context, roleID string) (bool, error) {
	if _, err := r.store.Get(ctx, roleDeletingKey(roleID)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("read role deleting marker: %w", err)
	}
	return true, nil
}

// ClearDeleting drops the deletion marker.
func (r *RoleRepository) ClearDeleting(ctx context.Context, roleID string) error {
	if err := r.store.Del(ctx, roleDeletingKey(roleID)); err != nil {
		return fmt.Errorf("clear role deleting marker: %w", err)
	}
	return nil
}
