package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"citykey.org/internal/ids"
	"citykey.org/internal/obs"
)

const defaultDedupeWindow = 2 * time.Second

// Entry is one append-only audit fact.
type Entry struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
}

// Store is the append-only persistence sink for audit entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Recorder writes audit entries, suppressing duplicates of the same
// action/entity/actor inside a short window. The window is enforced with an
// in-memory idempotency cache rather than a recent-rows scan, so a write
// costs one map lookup regardless of table size.
type Recorder struct {
	store  Store
	now    func() time.Time
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithDedupeWindow overrides the suppression window.
func WithDedupeWindow(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		now:    time.Now,
		window: defaultDedupeWindow,
		seen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append persists the entry unless an identical action/entity/actor was
// recorded inside the dedupe window. Suppression is not an error.
func (r *Recorder) Append(ctx context.Context, entry Entry) error {
	now := r.now().UTC()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}

	key := dedupeKey(entry)
	r.mu.Lock()
	if last, ok := r.seen[key]; ok && now.Sub(last) < r.window {
		r.mu.Unlock()
		return nil
	}
	r.seen[key] = now
	r.prune(now)
	r.mu.Unlock()

	if err := r.store.Append(ctx, &entry); err != nil {
		return err
	}
	r.logLine(entry)
	return nil
}

// prune drops stale cache keys. Called with the mutex held.
func (r *Recorder) prune(now time.Time) {
	if len(r.seen) < 1024 {
		return
	}
	for k, ts := range r.seen {
		if now.Sub(ts) >= r.window {
			delete(r.seen, k)
		}
	}
}

func (r *Recorder) logLine(entry Entry) {
	line := map[string]any{
		"ts":          entry.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"action":      entry.Action,
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
	}
	if entry.ActorID != "" {
		line["actor_id"] = entry.ActorID
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}

func dedupeKey(entry Entry) string {
	return strings.Join([]string{entry.Action, entry.EntityType, entry.EntityID, entry.ActorID}, "|")
}
