package access

import "errors"

var (
	// ErrNotFound is returned by store lookups when no row matches.
	ErrNotFound = errors.New("access: not found")

	// ErrLockNotFound is the single hard failure of the decision engine: the
	// referenced lock does not exist and no AccessRecord is produced.
	ErrLockNotFound = errors.New("access: lock not found")

	// ErrInvalidInput rejects malformed provisioning or tap requests.
	ErrInvalidInput = errors.New("access: invalid input")
)
