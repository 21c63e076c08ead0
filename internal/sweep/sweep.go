// Package sweep runs the periodic housekeeping jobs: deactivating credentials
// past their expiry and purging dead refresh token rows.
package sweep

import (
	"context"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/obs"
)

const (
	defaultCredentialInterval = 5 * time.Minute
	defaultPurgeInterval      = 24 * time.Hour
)

// Store is the persistence surface the sweeps need.
type Store interface {
	DeactivateExpiredCredentials(ctx context.Context, now time.Time) ([]*access.Credential, error)
	PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// Auditor records credential deactivations.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Runner owns the sweep schedule. Credential expiry and token purge run on
// independent cadences: cards need to stop working within minutes of their
// expiry, while dead token rows can wait a day.
type Runner struct {
	store              Store
	auditor            Auditor
	credentialInterval time.Duration
	purgeInterval      time.Duration
	now                func() time.Time
}

// Option configures Runner.
type Option func(*Runner)

// WithCredentialInterval overrides the credential-expiry sweep period.
func WithCredentialInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.credentialInterval = d
		}
	}
}

// WithPurgeInterval overrides the refresh-token purge period.
func WithPurgeInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.purgeInterval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner. Auditor may be nil.
func NewRunner(store Store, auditor Auditor, opts ...Option) *Runner {
	r := &Runner{
		store:              store,
		auditor:            auditor,
		credentialInterval: defaultCredentialInterval,
		purgeInterval:      defaultPurgeInterval,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the context ends, sweeping each job on its own ticker.
// Both jobs fire once immediately so a restart does not delay housekeeping.
func (r *Runner) Run(ctx context.Context) {
	credTicker := time.NewTicker(r.credentialInterval)
	defer credTicker.Stop()
	purgeTicker := time.NewTicker(r.purgeInterval)
	defer purgeTicker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-credTicker.C:
			r.SweepCredentials(ctx)
		case <-purgeTicker.C:
			r.PurgeTokens(ctx)
		}
	}
}

// Sweep executes both jobs once. Failures are logged, never fatal.
func (r *Runner) Sweep(ctx context.Context) {
	r.SweepCredentials(ctx)
	r.PurgeTokens(ctx)
}

// SweepCredentials deactivates credentials past their expiry, auditing each.
func (r *Runner) SweepCredentials(ctx context.Context) {
	now := r.now().UTC()
	expired, err := r.store.DeactivateExpiredCredentials(ctx, now)
	if err != nil {
		obs.Logger().Printf(`{"level":"error","msg":"credential sweep failed","error":%q}`, err.Error())
		return
	}
	for _, cred := range expired {
		if r.auditor == nil {
			continue
		}
		entry := audit.Entry{
			Action:     "credential.expired",
			EntityType: "Credential",
			EntityID:   cred.ID,
			NewValues:  map[string]any{"card_id": cred.CardID, "active": false},
		}
		if err := r.auditor.Append(ctx, entry); err != nil {
			obs.Logger().Printf(`{"level":"warn","msg":"credential sweep audit failed","credential_id":%q,"error":%q}`, cred.ID, err.Error())
		}
	}
	if len(expired) > 0 {
		obs.Logger().Printf(`{"level":"info","msg":"credential sweep complete","deactivated":%d}`, len(expired))
	}
}

// PurgeTokens deletes refresh token rows past their expiry.
func (r *Runner) PurgeTokens(ctx context.Context) {
	now := r.now().UTC()
	purged, err := r.store.PurgeExpiredRefreshTokens(ctx, now)
	if err != nil {
		obs.Logger().Printf(`{"level":"error","msg":"token purge failed","error":%q}`, err.Error())
		return
	}
	if purged > 0 {
		obs.Logger().Printf(`{"level":"info","msg":"token purge complete","purged":%d}`, purged)
	}
}
