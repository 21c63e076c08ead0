package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/authz"
	"citykey.org/internal/session"
	"citykey.org/internal/stream"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

// seedWorld provisions two cities, a super admin, a city admin, a plain user
// with a card, and a lock the user may open.
func seedWorld(t *testing.T, store *memStore) {
	t.Helper()
	now := time.Now().UTC()

	store.accounts["acc-root"] = &access.Account{
		ID: "acc-root", Email: "root@citykey.org", Role: authz.RoleSuperAdmin,
		Active: true, PasswordHash: hash(t, "root-pass"),
	}
	store.accounts["acc-admin"] = &access.Account{
		ID: "acc-admin", Email: "admin@citykey.org", Role: authz.RoleAdmin,
		TenantID: "city-almaty", Active: true, PasswordHash: hash(t, "admin-pass"),
	}
	store.accounts["acc-user"] = &access.Account{
		ID: "acc-user", Email: "user@citykey.org", Role: authz.RoleUser,
		TenantID: "city-almaty", Active: true, PasswordHash: hash(t, "user-pass"),
	}
	store.accounts["acc-astana"] = &access.Account{
		ID: "acc-astana", Email: "astana@citykey.org", Role: authz.RoleUser,
		TenantID: "city-astana", Active: true, PasswordHash: hash(t, "astana-pass"),
	}

	store.credentials["card-1"] = &access.Credential{
		ID: "cred-1", CardID: "card-1", AccountID: "acc-user", Active: true, IssuedAt: now,
	}
	store.locks["lock-1"] = &access.Lock{
		ID: "lock-1", AddressID: "addr-1", TenantID: "city-almaty", Active: true, Online: true,
	}
	store.locks["lock-astana"] = &access.Lock{
		ID: "lock-astana", AddressID: "addr-2", TenantID: "city-astana", Active: true, Online: true,
	}
	store.grants["acc-user|lock-1"] = &access.PermissionGrant{
		ID: "grant-1", AccountID: "acc-user", LockID: "lock-1",
		CanAccess: true, ValidFrom: now.Add(-time.Hour),
	}
}

func newTestAPI(t *testing.T, store *memStore) *API {
	t.Helper()
	sessions, err := session.NewService(
		[]byte("0123456789abcdef0123456789abcdef"), store, store)
	if err != nil {
		t.Fatal(err)
	}
	hub := stream.NewHub()
	recorder := audit.NewRecorder(store)
	engine := access.NewEngine(store,
		access.WithNotifier(hub),
		access.WithAuditSink(recorder),
	)
	return New(Config{
		Engine:   engine,
		Store:    store,
		Sessions: sessions,
		Recorder: recorder,
		Hub:      hub,
		Version:  "test",
	})
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, h http.Handler, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rr.Code, rr.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.AccessToken, resp.RefreshToken
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()

	rr := do(t, h, http.MethodGet, "/v1/auth/me", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", rr.Code)
	}
}

func TestAccessAttemptGranted(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	token, _ := login(t, h, "admin@citykey.org", "admin-pass")

	rr := do(t, h, http.MethodPost, "/v1/access/attempts", token, map[string]string{
		"card_id": "card-1", "lock_id": "lock-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec access.AccessRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != access.OutcomeGranted || rec.TenantID != "city-almaty" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAccessAttemptUnknownLockIs404(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	token, _ := login(t, h, "admin@citykey.org", "admin-pass")

	rr := do(t, h, http.MethodPost, "/v1/access/attempts", token, map[string]string{
		"card_id": "card-1", "lock_id": "no-such-lock",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("unknown lock must not produce a record, got %d", len(store.records))
	}
}

func TestRecordsScopedToAdminCity(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	store.records = append(store.records,
		&access.AccessRecord{ID: "r-1", Outcome: access.OutcomeGranted, LockID: "lock-1", TenantID: "city-almaty", Timestamp: time.Now()},
		&access.AccessRecord{ID: "r-2", Outcome: access.OutcomeGranted, LockID: "lock-astana", TenantID: "city-astana", Timestamp: time.Now()},
	)
	h := newTestAPI(t, store).Handler()

	// City admin sees only their own city, even when asking for another.
	token, _ := login(t, h, "admin@citykey.org", "admin-pass")
	rr := do(t, h, http.MethodGet, "/v1/access/records?city_id=city-astana", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Records []access.AccessRecord `json:"records"`
		Total   int                   `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Records[0].TenantID != "city-almaty" {
		t.Fatalf("admin scoping failed: %+v", resp)
	}

	// Super admin sees everything when unscoped.
	rootToken, _ := login(t, h, "root@citykey.org", "root-pass")
	rr = do(t, h, http.MethodGet, "/v1/access/records", rootToken, nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("super admin should see both cities, got %d", resp.Total)
	}

	// Plain users cannot read the records surface at all.
	userToken, _ := login(t, h, "user@citykey.org", "user-pass")
	rr = do(t, h, http.MethodGet, "/v1/access/records", userToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rr.Code)
	}
}

func TestRefreshRotationReplayFails(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	_, refresh := login(t, h, "user@citykey.org", "user-pass")

	rr := do(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	if rr.Code != http.StatusOK {
		t.Fatalf("first refresh: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh must 401, got %d", rr.Code)
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	token, refresh := login(t, h, "user@citykey.org", "user-pass")

	rr := do(t, h, http.MethodPost, "/v1/auth/logout", token, map[string]string{})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout must 401, got %d", rr.Code)
	}
}

func TestCredentialManagementGuards(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()

	// A plain user cannot provision credentials for anyone, including peers.
	userToken, _ := login(t, h, "user@citykey.org", "user-pass")
	rr := do(t, h, http.MethodPost, "/v1/credentials", userToken, map[string]any{
		"card_id": "card-x", "account_id": "acc-user",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d: %s", rr.Code, rr.Body.String())
	}

	// A city admin can provision inside their city.
	adminToken, _ := login(t, h, "admin@citykey.org", "admin-pass")
	rr = do(t, h, http.MethodPost, "/v1/credentials", adminToken, map[string]any{
		"card_id": "card-2", "account_id": "acc-user", "name": "spare card",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// But not in a foreign city.
	rr = do(t, h, http.MethodPost, "/v1/credentials", adminToken, map[string]any{
		"card_id": "card-3", "account_id": "acc-astana",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign city, got %d", rr.Code)
	}

	// Deactivation through the resource path.
	rr = do(t, h, http.MethodDelete, "/v1/credentials/card-2", adminToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.credentials["card-2"].Active {
		t.Fatal("credential should be deactivated")
	}
}

func TestGrantLifecycle(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	adminToken, _ := login(t, h, "admin@citykey.org", "admin-pass")

	rr := do(t, h, http.MethodPost, "/v1/grants", adminToken, map[string]any{
		"account_id": "acc-user", "lock_id": "lock-1",
		"valid_from": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("upsert grant: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodDelete, "/v1/grants", adminToken, map[string]string{
		"account_id": "acc-user", "lock_id": "lock-1",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete grant: %d %s", rr.Code, rr.Body.String())
	}
	if _, ok := store.grants["acc-user|lock-1"]; ok {
		t.Fatal("grant should be deleted")
	}
}

func TestMeReturnsAccountWithoutPasswordHash(t *testing.T) {
	store := newMemStore()
	seedWorld(t, store)
	h := newTestAPI(t, store).Handler()
	token, _ := login(t, h, "user@citykey.org", "user-pass")

	rr := do(t, h, http.MethodGet, "/v1/auth/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: %d", rr.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if raw["id"] != "acc-user" {
		t.Fatalf("unexpected account: %v", raw)
	}
	if _, leaked := raw["password_hash"]; leaked {
		t.Fatal("password hash must never serialize")
	}
}
