package stream

import (
	"context"
	"sync"
	"time"
)

// Event is one tenant-scoped notification fanned out to subscribers.
type Event struct {
	TenantID  string         `json:"city_id"`
	Name      string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type subscriber struct {
	tenantID string
	ch       chan Event
}

// Hub fan-outs events to subscribers scoped by tenant. Publishing is
// fire-and-forget: it never blocks and never returns an error, so a slow or
// dead subscriber cannot fail the caller's primary path.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one tenant's events. An empty tenant
// subscribes to every tenant (unscoped, super admin only at call sites).
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, tenantID string) <-chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{tenantID: tenantID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.tenantID != "" && sub.tenantID != evt.TenantID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// EmitToTenant publishes a named event into one tenant's room.
func (h *Hub) EmitToTenant(tenantID, name string, payload map[string]any) {
	h.Publish(Event{
		TenantID:  tenantID,
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
