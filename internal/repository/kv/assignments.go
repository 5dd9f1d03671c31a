package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// AssignmentRepository stores bindings under assignment:<user>:<role>:<tenant>:<site>.
type AssignmentRepository struct {
	store port.CredentialStore
}

var _ port.AssignmentRepository = (*AssignmentRepository)(nil)

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(store port.CredentialStore) *AssignmentRepository {
	return &AssignmentRepository{store: store}
}

func assignmentKey(userID, roleID, tenantID, siteID string) string {
	return strings.Join([]string{"assignment", userID, roleID, orUnderscore(tenantID), orUnderscore(siteID)}, ":")
}

// Assign upserts the binding.
func (r *AssignmentRepository) Assign(ctx context.Context, assignment domain.RoleAssignment) error {
	payload, err := encode(assignment)
	if err != nil {
		return err
	}
	key := assignmentKey(assignment.UserID, assignment.RoleID, assignment.TenantID, assignment.SiteID)
	if err := r.store.Set(ctx, key, payload, 0); err != nil {
		return fmt.Errorf("store assignment: %w", err)
	}
	return nil
}

// Unassign removes the binding; missing bindings are not an error.
func (r *AssignmentRepository) Unassign(ctx context.Context, userID, roleID, tenantID, siteID string) error {
	if err := r.store.Del(ctx, assignmentKey(userID, roleID, tenantID, siteID)); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// ListByUser returns every binding of userID across tenants.
func (r *AssignmentRepository) ListByUser(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	keys, err := r.store.Keys(ctx, "assignment:"+literal(userID)+":*")
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := make([]domain.RoleAssignment, 0, len(keys))
	for _, key := range keys {
		var assignment domain.RoleAssignment
		if err := getJSON(ctx, r.store, key, &assignment); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if assignment.UserID != userID {
			continue
		}
		out = append(out, assignment)
	}
	return out, nil
}

// CountByRole reports how many users hold roleID.
func (r *AssignmentRepository) CountByRole(ctx context.Context, roleID string) (int, error) {
	keys, err := r.store.Keys(ctx, "assignment:*:"+literal(roleID)+":*")
	if err != nil {
		return 0, fmt.Errorf("count assignments: %w", err)
	}
	return len(keys), nil
}
