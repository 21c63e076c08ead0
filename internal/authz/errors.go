package authz

import "errors"

var (
	// ErrForbidden signals that the actor's rank or tenant scope does not
	// allow the requested operation.
	ErrForbidden = errors.New("authz: forbidden")

	// ErrTenantRequired signals a tenant-scoped operation attempted by an
	// actor with no tenant assignment.
	ErrTenantRequired = errors.New("authz: tenant scope required")

	// ErrInvalidRole signals a role string outside the known rank order.
	ErrInvalidRole = errors.New("authz: invalid role")
)
