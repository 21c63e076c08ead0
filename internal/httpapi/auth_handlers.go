package httpapi

import (
	"errors"
	"net/http"

	"citykey.org/internal/audit"
	"citykey.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, pair, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	a.audit(r, audit.Entry{
		Action:     "session.issued",
		EntityType: "Account",
		EntityID:   account.ID,
		ActorID:    account.ID,
	})
	if a.hub != nil {
		a.hub.EmitToTenant(account.TenantID, "session.issued", map[string]any{
			"account_id": account.ID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":       account,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.sessions.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	n, err := a.sessions.RevokeAllForAccount(r.Context(), actor.AccountID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	a.audit(r, audit.Entry{
		Action:     "session.revoked",
		EntityType: "Account",
		EntityID:   actor.AccountID,
		ActorID:    actor.AccountID,
		NewValues:  map[string]any{"revoked": n},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked": n,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	account, err := a.store.Accounts(r.Context()).Find(r.Context(), actor.AccountID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "account lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// audit records an entry best-effort; API responses never fail on audit.
func (a *API) audit(r *http.Request, entry audit.Entry) {
	if a.recorder == nil {
		return
	}
	_ = a.recorder.Append(r.Context(), entry)
}
