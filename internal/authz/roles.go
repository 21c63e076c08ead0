package authz

import (
	"fmt"
	"strings"
)

// Role is the ranked operator role. The order is total: every privileged
// operation compares ranks, never role names.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleUser       Role = "user"
)

var roleRank = map[Role]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleSupervisor: 2,
	RoleUser:       1,
}

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// Valid reports whether the role is one of the four known ranks.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the numeric rank of the role; unknown roles rank 0, below
// every valid role.
func (r Role) Rank() int {
	return roleRank[r]
}

// RoleAtLeast reports whether role ranks at or above required.
func RoleAtLeast(role, required Role) bool {
	return roleRank[role] >= roleRank[required]
}

// CanManage reports whether an actor with actorRole may act on an account
// holding targetRole, or on that account's credentials and grants.
//
// A super admin target is only manageable by a super admin actor; everyone
// else is manageable strictly downward. No role manages a peer or superior.
func CanManage(target, actor Role) bool {
	if target == RoleSuperAdmin {
		return actor == RoleSuperAdmin
	}
	return roleRank[actor] > roleRank[target]
}
