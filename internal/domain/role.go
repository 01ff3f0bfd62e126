package domain

import (
	"fmt"
	"strings"
)

// RoleLevel is an approver role in the fixed organizational hierarchy.
type RoleLevel string

const (
	RoleEmployee RoleLevel = "employee"
	RoleHR       RoleLevel = "hr"
	RoleManager  RoleLevel = "manager"
	RoleAdmin    RoleLevel = "admin"
)

// roleRanks is the total order of the hierarchy. No two roles share a rank.
var roleRanks = map[RoleLevel]int{
	RoleEmployee: 1,
	RoleHR:       2,
	RoleManager:  3,
	RoleAdmin:    4,
}

// Roles returns every role, lowest rank first.
func Roles() []RoleLevel {
	return []RoleLevel{RoleEmployee, RoleHR, RoleManager, RoleAdmin}
}

// Rank returns the position of the role in the hierarchy, or 0 for an unknown role.
func (r RoleLevel) Rank() int {
	return roleRanks[r]
}

// IsValid reports whether r is one of the known roles.
func (r RoleLevel) IsValid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Outranks reports whether r sits strictly above other.
func (r RoleLevel) Outranks(other RoleLevel) bool {
	return r.Rank() > other.Rank()
}

func (r RoleLevel) String() string {
	return string(r)
}

// ParseRole converts a case-insensitive role name into a RoleLevel.
func ParseRole(s string) (RoleLevel, error) {
	role := RoleLevel(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return role, nil
}
