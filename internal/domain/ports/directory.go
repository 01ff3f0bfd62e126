package ports

import (
	"context"

	"github.com/nexuscrm/approvals/internal/domain"
)

// User is the directory view of a person.
type User struct {
	ID     string           `json:"id" yaml:"id"`
	Name   string           `json:"name" yaml:"name"`
	Email  string           `json:"email,omitempty" yaml:"email,omitempty"`
	Role   domain.RoleLevel `json:"role" yaml:"role"`
	Tenant string           `json:"tenant,omitempty" yaml:"tenant,omitempty"`
}

// Directory is the read-only master data lookup.
type Directory interface {
	// UsersInRole returns the users holding role in tenant, in a stable order.
	UsersInRole(ctx context.Context, tenant string, role domain.RoleLevel) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	// DescribeEntity returns a display label for an entity, or "" when unknown.
	DescribeEntity(ctx context.Context, entityType, entityID string) (string, error)
}
