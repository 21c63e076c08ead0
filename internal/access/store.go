package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the decision engine and
// the provisioning surface. Implementations are injected explicitly; there is
// no shared global client.
type Store interface {
	Credentials(ctx context.Context) CredentialStore
	Locks(ctx context.Context) LockStore
	Accounts(ctx context.Context) AccountStore
	Grants(ctx context.Context) GrantStore
	Records(ctx context.Context) RecordStore
}

// CredentialStore manages RFID credentials.
type CredentialStore interface {
	FindByCardID(ctx context.Context, cardID string) (*Credential, error)
	// Upsert creates the credential or, when the card id already exists,
	// reassigns it: owner and expiry are replaced and the card reactivates.
	Upsert(ctx context.Context, cred *Credential) error
	Deactivate(ctx context.Context, cardID string) error
}

// LockStore reads locks; the only write the core performs is the last-seen
// touch after a granted decision.
type LockStore interface {
	Find(ctx context.Context, id string) (*Lock, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// AccountStore reads accounts.
type AccountStore interface {
	Find(ctx context.Context, id string) (*Account, error)
}

// GrantStore manages the one-per-(account,lock) permission grants.
type GrantStore interface {
	Find(ctx context.Context, accountID, lockID string) (*PermissionGrant, error)
	Upsert(ctx context.Context, grant *PermissionGrant) error
	Delete(ctx context.Context, accountID, lockID string) error
}

// RecordFilter narrows an access record listing. Zero values mean "any".
type RecordFilter struct {
	TenantID  string
	AccountID string
	LockID    string
	Outcome   Outcome
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// RecordStore appends and queries immutable access records.
type RecordStore interface {
	Create(ctx context.Context, rec *AccessRecord) error
	List(ctx context.Context, filter RecordFilter) ([]*AccessRecord, int, error)
}
