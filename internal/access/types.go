package access

import (
	"time"

	"citykey.org/internal/authz"
)

// Account represents an operator or card holder. Consumed read-only by the
// decision engine; administrative CRUD lives outside the core.
type Account struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Role         authz.Role  `json:"role"`
	TenantID     string      `json:"city_id,omitempty"`
	Active       bool        `json:"active"`
	PasswordHash string      `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	LastLoginAt  *time.Time  `json:"last_login_at,omitempty"`
}

// Credential is a physical access token (RFID card) mapped to one account.
type Credential struct {
	ID        string     `json:"id"`
	CardID    string     `json:"card_id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name,omitempty"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
}

// Expired reports whether the credential carries a past expiry.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Lock is a controlled door. TenantID is resolved through the lock's address
// at load time so the engine never joins through addresses itself.
type Lock struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	AddressID string     `json:"address_id"`
	TenantID  string     `json:"city_id"`
	Active    bool       `json:"active"`
	Online    bool       `json:"online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// PermissionGrant is a time-bounded authorization linking one account to one
// lock. At most one grant exists per (account, lock) pair.
type PermissionGrant struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	LockID    string     `json:"lock_id"`
	CanAccess bool       `json:"can_access"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// InEffect reports whether the grant authorizes access at the given instant.
// The validity window is half-open: [ValidFrom, ValidTo).
func (g PermissionGrant) InEffect(now time.Time) bool {
	if !g.CanAccess {
		return false
	}
	if g.ValidFrom.After(now) {
		return false
	}
	return g.ValidTo == nil || g.ValidTo.After(now)
}

// DefaultAccessType labels taps originating from an RFID reader.
const DefaultAccessType = "rfid_card"

// TapEvent is one credential presentation at one lock.
type TapEvent struct {
	CardID     string            `json:"card_id"`
	LockID     string            `json:"lock_id"`
	AccessType string            `json:"access_type,omitempty"`
	DeviceInfo map[string]string `json:"device_info,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AccessRecord is the immutable fact recording the outcome of one tap event.
// AccountID and CredentialID stay empty when identity could not be resolved.
// TenantID is denormalized from the lock's address at write time.
type AccessRecord struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Outcome      Outcome           `json:"result"`
	AccessType   string            `json:"access_type"`
	LockID       string            `json:"lock_id"`
	TenantID     string            `json:"city_id,omitempty"`
	AccountID    string            `json:"account_id,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	DeviceInfo   map[string]string `json:"device_info,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
