package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"citykey.org/internal/authz"
)

// Stream serves tenant-scoped events over Server-Sent Events. A super admin
// may subscribe unscoped; everyone else is pinned to their own city.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tenantID, err := authz.EffectiveTenant(actor, r.URL.Query().Get("city_id"))
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx, tenantID)

	// Initial comment establishes the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
