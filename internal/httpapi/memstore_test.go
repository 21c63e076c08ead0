package httpapi

import (
	"context"
	"strings"
	"sync"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/ids"
	"citykey.org/internal/session"
)

// memStore backs the handler tests: one struct implements the access store,
// the session token store, the account directory and the audit sink.
type memStore struct {
	mu          sync.Mutex
	credentials map[string]*access.Credential
	locks       map[string]*access.Lock
	accounts    map[string]*access.Account
	grants      map[string]*access.PermissionGrant
	records     []*access.AccessRecord
	tokens      map[string]*session.RefreshToken
	auditLog    []*audit.Entry
}

func newMemStore() *memStore {
	return &memStore{
		credentials: make(map[string]*access.Credential),
		locks:       make(map[string]*access.Lock),
		accounts:    make(map[string]*access.Account),
		grants:      make(map[string]*access.PermissionGrant),
		tokens:      make(map[string]*session.RefreshToken),
	}
}

func (m *memStore) Credentials(ctx context.Context) access.CredentialStore { return memCreds{m} }
func (m *memStore) Locks(ctx context.Context) access.LockStore             { return memLocks{m} }
func (m *memStore) Accounts(ctx context.Context) access.AccountStore       { return memAccounts{m} }
func (m *memStore) Grants(ctx context.Context) access.GrantStore           { return memGrants{m} }
func (m *memStore) Records(ctx context.Context) access.RecordStore         { return memRecords{m} }

type memCreds struct{ s *memStore }

func (c memCreds) FindByCardID(ctx context.Context, cardID string) (*access.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cred, ok := c.s.credentials[cardID]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (c memCreds) Upsert(ctx context.Context, cred *access.Credential) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	cp := *cred
	c.s.credentials[cred.CardID] = &cp
	return nil
}

func (c memCreds) Deactivate(ctx context.Context, cardID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cred, ok := c.s.credentials[cardID]
	if !ok {
		return access.ErrNotFound
	}
	cred.Active = false
	return nil
}

type memLocks struct{ s *memStore }

func (l memLocks) Find(ctx context.Context, id string) (*access.Lock, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	lock, ok := l.s.locks[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *lock
	return &cp, nil
}

func (l memLocks) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if lock, ok := l.s.locks[id]; ok {
		lock.LastSeen = &at
	}
	return nil
}

type memAccounts struct{ s *memStore }

func (a memAccounts) Find(ctx context.Context, id string) (*access.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acc, ok := a.s.accounts[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

type memGrants struct{ s *memStore }

func (g memGrants) Find(ctx context.Context, accountID, lockID string) (*access.PermissionGrant, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	grant, ok := g.s.grants[accountID+"|"+lockID]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *grant
	return &cp, nil
}

func (g memGrants) Upsert(ctx context.Context, grant *access.PermissionGrant) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	cp := *grant
	g.s.grants[grant.AccountID+"|"+grant.LockID] = &cp
	return nil
}

func (g memGrants) Delete(ctx context.Context, accountID, lockID string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	key := accountID + "|" + lockID
	if _, ok := g.s.grants[key]; !ok {
		return access.ErrNotFound
	}
	delete(g.s.grants, key)
	return nil
}

type memRecords struct{ s *memStore }

func (r memRecords) Create(ctx context.Context, rec *access.AccessRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *rec
	r.s.records = append(r.s.records, &cp)
	return nil
}

func (r memRecords) List(ctx context.Context, filter access.RecordFilter) ([]*access.AccessRecord, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*access.AccessRecord
	for _, rec := range r.s.records {
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.AccountID != "" && rec.AccountID != filter.AccountID {
			continue
		}
		if filter.LockID != "" && rec.LockID != filter.LockID {
			continue
		}
		if filter.Outcome != "" && rec.Outcome != filter.Outcome {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, len(out), nil
}

// session.TokenStore

func (m *memStore) Create(ctx context.Context, token *session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memStore) Find(ctx context.Context, id string) (*session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memStore) Rotate(ctx context.Context, oldID string, next *session.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok {
		return access.ErrNotFound
	}
	if old.Revoked || old.ReplacedByID != "" {
		return session.ErrInvalidToken
	}
	old.Revoked = true
	old.ReplacedByID = next.ID
	cp := *next
	m.tokens[next.ID] = &cp
	return nil
}

func (m *memStore) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tok := range m.tokens {
		if tok.AccountID == accountID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

// session.Directory

func (m *memStore) FindAccount(ctx context.Context, id string) (*access.Account, error) {
	return m.Accounts(ctx).Find(ctx, id)
}

func (m *memStore) FindAccountByEmail(ctx context.Context, email string) (*access.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if strings.EqualFold(acc.Email, email) {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (m *memStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[id]; ok {
		acc.LastLoginAt = &at
	}
	return nil
}

// audit.Store

func (m *memStore) Append(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLog = append(m.auditLog, entry)
	return nil
}
