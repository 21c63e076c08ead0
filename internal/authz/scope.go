package authz

import "strings"

// Actor is the authenticated identity threaded explicitly through privileged
// operations. It is resolved once per request by the transport layer and
// never read from ambient state.
type Actor struct {
	AccountID string
	Role      Role
	TenantID  string
}

// EffectiveTenant resolves the tenant (city) an actor may operate within.
//
// A super admin operates unscoped (empty tenant) unless they explicitly ask
// for a specific tenant, in which case that request is honored. Every other
// role is pinned to its own tenant: a caller-supplied tenant is silently
// ignored rather than rejected, so call sites stay simple and a lower-ranked
// actor can never widen its scope. A non-super-admin actor without a tenant
// fails closed.
func EffectiveTenant(actor Actor, requestedTenantID string) (string, error) {
	if actor.Role == RoleSuperAdmin {
		return strings.TrimSpace(requestedTenantID), nil
	}
	if strings.TrimSpace(actor.TenantID) == "" {
		return "", ErrTenantRequired
	}
	return actor.TenantID, nil
}
