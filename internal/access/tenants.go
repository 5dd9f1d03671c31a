package access

import (
	"context"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// StaticDirectory knows a fixed set of tenants, typically from configuration.
type StaticDirectory struct {
	tenants map[string]struct{}
}

var _ port.TenantDirectory = (*StaticDirectory)(nil)

// NewStaticDirectory returns nil when ids is empty so callers can treat "no list" as "any tenant".
func NewStaticDirectory(ids []string) *StaticDirectory {
	tenants := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			tenants[id] = struct{}{}
		}
	}
	if len(tenants) == 0 {
		return nil
	}
	return &StaticDirectory{tenants: tenants}
}

// Exists implements port.TenantDirectory. A nil directory accepts every tenant.
func (d *StaticDirectory) Exists(_ context.Context, tenantID string) (bool, error) {
	if d == nil {
		return true, nil
	}
	_, ok := d.tenants[tenantID]
	return ok, nil
}
