package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
)

type fakeSweepStore struct {
	mu         sync.Mutex
	expired    []*access.Credential
	purged     int64
	credCalls  int
	purgeCalls int
}

func (f *fakeSweepStore) DeactivateExpiredCredentials(ctx context.Context, now time.Time) ([]*access.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credCalls++
	out := f.expired
	f.expired = nil
	return out, nil
}

func (f *fakeSweepStore) PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	return f.purged, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditor) Append(ctx context.Context, entry audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func TestSweepAuditsEachDeactivatedCredential(t *testing.T) {
	store := &fakeSweepStore{
		expired: []*access.Credential{
			{ID: "cred-1", CardID: "card-1"},
			{ID: "cred-2", CardID: "card-2"},
		},
		purged: 5,
	}
	auditor := &fakeAuditor{}
	runner := NewRunner(store, auditor)

	runner.Sweep(context.Background())

	if len(auditor.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(auditor.entries))
	}
	for i, entry := range auditor.entries {
		if entry.Action != "credential.expired" || entry.EntityType != "Credential" {
			t.Fatalf("entry %d: unexpected %+v", i, entry)
		}
	}
}

func TestSweepWithoutAuditor(t *testing.T) {
	store := &fakeSweepStore{expired: []*access.Credential{{ID: "cred-1"}}}
	runner := NewRunner(store, nil)
	runner.Sweep(context.Background())
	if store.credCalls != 1 || store.purgeCalls != 1 {
		t.Fatalf("expected one call per job, got %d/%d", store.credCalls, store.purgeCalls)
	}
}

func TestRunJobsFollowTheirOwnCadence(t *testing.T) {
	store := &fakeSweepStore{}
	runner := NewRunner(store, nil,
		WithCredentialInterval(10*time.Millisecond),
		WithPurgeInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	// Credential sweep ticks several times; purge only ran the startup pass.
	if store.credCalls < 3 {
		t.Fatalf("expected repeated credential sweeps, got %d", store.credCalls)
	}
	if store.purgeCalls != 1 {
		t.Fatalf("expected only the startup purge, got %d", store.purgeCalls)
	}
}

func TestIntervalOptionsIgnoreNonPositive(t *testing.T) {
	runner := NewRunner(&fakeSweepStore{}, nil,
		WithCredentialInterval(0),
		WithPurgeInterval(-time.Minute),
	)
	if runner.credentialInterval != defaultCredentialInterval {
		t.Fatalf("expected default credential interval, got %v", runner.credentialInterval)
	}
	if runner.purgeInterval != defaultPurgeInterval {
		t.Fatalf("expected default purge interval, got %v", runner.purgeInterval)
	}
}
