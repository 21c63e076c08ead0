package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/authz"
)

type upsertCredentialRequest struct {
	CardID    string     `json:"card_id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type upsertGrantRequest struct {
	AccountID string     `json:"account_id"`
	LockID    string     `json:"lock_id"`
	CanAccess *bool      `json:"can_access"`
	ValidFrom *time.Time `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
}

type deleteGrantRequest struct {
	AccountID string `json:"account_id"`
	LockID    string `json:"lock_id"`
}

// ensureManages verifies the actor may administer the target account: the
// role order must allow it and, below super admin, both must share a city.
func (a *API) ensureManages(w http.ResponseWriter, r *http.Request, actor authz.Actor, targetAccountID string) (*access.Account, bool) {
	target, err := a.store.Accounts(r.Context()).Find(r.Context(), targetAccountID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "account not found")
			return nil, false
		}
		writeError(w, r, http.StatusInternalServerError, "account lookup failed")
		return nil, false
	}
	if !authz.CanManage(target.Role, actor.Role) {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return nil, false
	}
	if actor.Role != authz.RoleSuperAdmin && target.TenantID != actor.TenantID {
		writeError(w, r, http.StatusForbidden, "account outside your city")
		return nil, false
	}
	return target, true
}

func (a *API) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req upsertCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.CardID = strings.TrimSpace(req.CardID)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.CardID == "" || req.AccountID == "" {
		writeError(w, r, http.StatusBadRequest, "card_id and account_id are required")
		return
	}
	if _, ok := a.ensureManages(w, r, actor, req.AccountID); !ok {
		return
	}

	cred := &access.Credential{
		CardID:    req.CardID,
		AccountID: req.AccountID,
		Name:      req.Name,
		Active:    true,
		ExpiresAt: req.ExpiresAt,
	}
	if err := a.store.Credentials(r.Context()).Upsert(r.Context(), cred); err != nil {
		writeError(w, r, http.StatusInternalServerError, "saving credential failed")
		return
	}
	a.audit(r, audit.Entry{
		Action:     "credential.upsert",
		EntityType: "Credential",
		EntityID:   cred.ID,
		ActorID:    actor.AccountID,
		NewValues:  map[string]any{"card_id": cred.CardID, "account_id": cred.AccountID},
	})
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request) {
	cardID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/credentials/"), "/")
	if cardID == "" || strings.Contains(cardID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	cred, err := a.store.Credentials(r.Context()).FindByCardID(r.Context(), cardID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "credential not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "credential lookup failed")
		return
	}
	if _, ok := a.ensureManages(w, r, actor, cred.AccountID); !ok {
		return
	}
	if err := a.store.Credentials(r.Context()).Deactivate(r.Context(), cardID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "deactivating credential failed")
		return
	}
	a.audit(r, audit.Entry{
		Action:     "credential.deactivate",
		EntityType: "Credential",
		EntityID:   cred.ID,
		ActorID:    actor.AccountID,
		NewValues:  map[string]any{"card_id": cardID, "active": false},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.upsertGrant(w, r)
	case http.MethodDelete:
		a.deleteGrant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) upsertGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req upsertGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.LockID = strings.TrimSpace(req.LockID)
	if req.AccountID == "" || req.LockID == "" {
		writeError(w, r, http.StatusBadRequest, "account_id and lock_id are required")
		return
	}
	if req.ValidFrom != nil && req.ValidTo != nil && !req.ValidTo.After(*req.ValidFrom) {
		writeError(w, r, http.StatusBadRequest, "valid_to must be after valid_from")
		return
	}
	if _, ok := a.ensureManages(w, r, actor, req.AccountID); !ok {
		return
	}
	if _, err := a.store.Locks(r.Context()).Find(r.Context(), req.LockID); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "lock not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "lock lookup failed")
		return
	}

	grant := &access.PermissionGrant{
		AccountID: req.AccountID,
		LockID:    req.LockID,
		CanAccess: true,
	}
	if req.CanAccess != nil {
		grant.CanAccess = *req.CanAccess
	}
	if req.ValidFrom != nil {
		grant.ValidFrom = req.ValidFrom.UTC()
	} else {
		grant.ValidFrom = time.Now().UTC()
	}
	if req.ValidTo != nil {
		to := req.ValidTo.UTC()
		grant.ValidTo = &to
	}
	if err := a.store.Grants(r.Context()).Upsert(r.Context(), grant); err != nil {
		writeError(w, r, http.StatusInternalServerError, "saving grant failed")
		return
	}
	a.audit(r, audit.Entry{
		Action:     "grant.upsert",
		EntityType: "PermissionGrant",
		EntityID:   grant.ID,
		ActorID:    actor.AccountID,
		NewValues: map[string]any{
			"account_id": grant.AccountID,
			"lock_id":    grant.LockID,
			"can_access": grant.CanAccess,
		},
	})
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) deleteGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req deleteGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AccountID == "" || req.LockID == "" {
		writeError(w, r, http.StatusBadRequest, "account_id and lock_id are required")
		return
	}
	if _, ok := a.ensureManages(w, r, actor, req.AccountID); !ok {
		return
	}
	if err := a.store.Grants(r.Context()).Delete(r.Context(), req.AccountID, req.LockID); err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "grant not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "deleting grant failed")
		return
	}
	a.audit(r, audit.Entry{
		Action:     "grant.delete",
		EntityType: "PermissionGrant",
		EntityID:   req.AccountID + ":" + req.LockID,
		ActorID:    actor.AccountID,
	})
	w.WriteHeader(http.StatusNoContent)
}
