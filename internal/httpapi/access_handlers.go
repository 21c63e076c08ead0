package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/authz"
)

func (a *API) handleAccessAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var evt access.TapEvent
	if err := decodeJSON(w, r, &evt); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.engine.Decide(r.Context(), evt)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrLockNotFound):
			writeError(w, r, http.StatusNotFound, "lock not found")
		case errors.Is(err, access.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "access decision failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleAccessRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !authz.RoleAtLeast(actor.Role, authz.RoleSupervisor) {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return
	}

	q := r.URL.Query()
	tenantID, err := authz.EffectiveTenant(actor, q.Get("city_id"))
	if err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	filter := access.RecordFilter{
		TenantID:  tenantID,
		AccountID: q.Get("account_id"),
		LockID:    q.Get("lock_id"),
	}
	if raw := q.Get("result"); raw != "" {
		outcome, err := access.ParseOutcome(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.Outcome = outcome
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = &ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = &ts
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	records, total, err := a.store.Records(r.Context()).List(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing access records failed")
		return
	}
	if records == nil {
		records = []*access.AccessRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}
