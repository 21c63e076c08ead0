package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"citykey.org/internal/audit"
	"citykey.org/internal/ids"
	"citykey.org/internal/obs"
)

// Notifier receives fire-and-forget decision events scoped to one tenant.
type Notifier interface {
	EmitToTenant(tenantID, name string, payload map[string]any)
}

// AuditSink receives audit entries for granted decisions.
type AuditSink interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Engine evaluates tap events against the guard chain and persists the
// resulting records. It is safe for concurrent use.
type Engine struct {
	store    Store
	notifier Notifier
	auditor  AuditSink
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier attaches a tenant event sink. Nil disables emission.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithAuditSink attaches an audit sink for granted decisions.
func WithAuditSink(a AuditSink) EngineOption {
	return func(e *Engine) { e.auditor = a }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs a decision engine over the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates one tap event. The guards run in a fixed order and the
// first one that fires determines the outcome; later guards are not consulted.
// Every evaluated tap persists exactly one AccessRecord. The only path that
// produces no record is an unknown lock, which is a hard failure
// (ErrLockNotFound) rather than a denial.
func (e *Engine) Decide(ctx context.Context, evt TapEvent) (*AccessRecord, error) {
	cardID := strings.TrimSpace(evt.CardID)
	lockID := strings.TrimSpace(evt.LockID)
	if cardID == "" || lockID == "" {
		return nil, fmt.Errorf("%w: card_id and lock_id are required", ErrInvalidInput)
	}

	lock, err := e.store.Locks(ctx).Find(ctx, lockID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("find lock: %w", err)
	}

	now := e.now().UTC()

	// The credential is resolved before lock-state guards fire so that denial
	// records carry the account and credential ids whenever they are known.
	var (
		cred    *Credential
		account *Account
	)
	cred, err = e.store.Credentials(ctx).FindByCardID(ctx, cardID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	if cred != nil {
		account, err = e.store.Accounts(ctx).Find(ctx, cred.AccountID)
		if err != nil {
			// A credential pointing at a missing account is data corruption,
			// not a deniable tap.
			return nil, fmt.Errorf("find account %s: %w", cred.AccountID, err)
		}
	}

	outcome, err := e.classify(ctx, now, lock, cred, account)
	if err != nil {
		return nil, err
	}

	rec := &AccessRecord{
		ID:         ids.New(),
		Timestamp:  now,
		Outcome:    outcome,
		AccessType: evt.AccessType,
		LockID:     lock.ID,
		TenantID:   lock.TenantID,
		DeviceInfo: evt.DeviceInfo,
		Metadata:   evt.Metadata,
	}
	if rec.AccessType == "" {
		rec.AccessType = DefaultAccessType
	}
	if cred != nil {
		rec.CredentialID = cred.ID
		rec.AccountID = cred.AccountID
	}

	if err := e.store.Records(ctx).Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create access record: %w", err)
	}
	obs.ObserveDecision(string(outcome))

	if outcome.Granted() {
		// Best effort: a failed heartbeat touch must not revoke the grant.
		if err := e.store.Locks(ctx).TouchLastSeen(ctx, lock.ID, now); err != nil {
			obs.Logger().Printf(`{"level":"warn","msg":"touch last seen failed","lock_id":%q,"error":%q}`, lock.ID, err.Error())
		}
		if e.auditor != nil {
			entry := audit.Entry{
				Action:     "access.attempt",
				EntityType: "AccessRecord",
				EntityID:   rec.ID,
				ActorID:    rec.AccountID,
				NewValues: map[string]any{
					"result":  string(outcome),
					"lock_id": lock.ID,
					"card_id": cardID,
				},
			}
			if err := e.auditor.Append(ctx, entry); err != nil {
				obs.Logger().Printf(`{"level":"warn","msg":"audit append failed","record_id":%q,"error":%q}`, rec.ID, err.Error())
			}
		}
	}

	if e.notifier != nil {
		e.notifier.EmitToTenant(lock.TenantID, "access.created", map[string]any{
			"record_id":  rec.ID,
			"result":     string(outcome),
			"lock_id":    lock.ID,
			"account_id": rec.AccountID,
			"timestamp":  rec.Timestamp.Format(time.RFC3339Nano),
		})
	}

	return rec, nil
}

// classify walks the guard chain. Lock state is checked before credential
// state: an offline or disabled lock answers identically for valid and
// invalid cards, so a reader probing the system learns nothing about which
// cards exist.
func (e *Engine) classify(ctx context.Context, now time.Time, lock *Lock, cred *Credential, account *Account) (Outcome, error) {
	if !lock.Active {
		return OutcomeDeniedInactiveLock, nil
	}
	if !lock.Online {
		return OutcomeErrorDeviceOffline, nil
	}
	if cred == nil || !cred.Active {
		return OutcomeDeniedInvalidCard, nil
	}
	if cred.Expired(now) {
		return OutcomeDeniedExpiredCard, nil
	}
	if account == nil || !account.Active {
		return OutcomeDeniedInactiveUser, nil
	}

	grant, err := e.store.Grants(ctx).Find(ctx, account.ID, lock.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return OutcomeDeniedNoPermission, nil
		}
		return "", fmt.Errorf("find grant: %w", err)
	}
	if !grant.CanAccess {
		return OutcomeDeniedNoPermission, nil
	}
	if !grant.InEffect(now) {
		return OutcomeDeniedTimeRestriction, nil
	}
	return OutcomeGranted, nil
}
