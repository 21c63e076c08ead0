package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"citykey.org/internal/access"
	"citykey.org/internal/ids"
)

// Store implements the persistence interfaces over Postgres.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Credentials(ctx context.Context) access.CredentialStore { return credentials{s.db} }
func (s *Store) Locks(ctx context.Context) access.LockStore             { return locks{s.db} }
func (s *Store) Accounts(ctx context.Context) access.AccountStore       { return accounts{s.db} }
func (s *Store) Grants(ctx context.Context) access.GrantStore           { return grants{s.db} }
func (s *Store) Records(ctx context.Context) access.RecordStore         { return records{s.db} }

type credentials struct{ db *sql.DB }

func (c credentials) FindByCardID(ctx context.Context, cardID string) (*access.Credential, error) {
	var cred access.Credential
	var expires sql.NullTime
	err := c.db.QueryRowContext(ctx, `
		select id, card_id, account_id, coalesce(name,''), active, expires_at, issued_at
		from credentials where card_id=$1
	`, cardID).Scan(&cred.ID, &cred.CardID, &cred.AccountID, &cred.Name, &cred.Active, &expires, &cred.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		cred.ExpiresAt = &expires.Time
	}
	return &cred, nil
}

func (c credentials) Upsert(ctx context.Context, cred *access.Credential) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now().UTC()
	}
	// Reassigning an existing card replaces the owner and reactivates it.
	_, err := c.db.ExecContext(ctx, `
		insert into credentials(id, card_id, account_id, name, active, expires_at, issued_at)
		values ($1,$2,$3,nullif($4,''),true,$5,$6)
		on conflict (card_id) do update
		set account_id = excluded.account_id,
		    name       = excluded.name,
		    active     = true,
		    expires_at = excluded.expires_at,
		    issued_at  = excluded.issued_at
	`, cred.ID, cred.CardID, cred.AccountID, cred.Name, cred.ExpiresAt, cred.IssuedAt)
	return err
}

func (c credentials) Deactivate(ctx context.Context, cardID string) error {
	res, err := c.db.ExecContext(ctx, `update credentials set active=false where card_id=$1`, cardID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return access.ErrNotFound
	}
	return nil
}

type locks struct{ db *sql.DB }

func (l locks) Find(ctx context.Context, id string) (*access.Lock, error) {
	var lock access.Lock
	var lastSeen sql.NullTime
	// city_id rides along from the lock's address so callers never join.
	err := l.db.QueryRowContext(ctx, `
		select l.id, coalesce(l.name,''), l.address_id, a.city_id, l.active, l.online, l.last_seen
		from locks l
		join addresses a on a.id = l.address_id
		where l.id=$1
	`, id).Scan(&lock.ID, &lock.Name, &lock.AddressID, &lock.TenantID, &lock.Active, &lock.Online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		lock.LastSeen = &lastSeen.Time
	}
	return &lock, nil
}

func (l locks) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `update locks set last_seen=$2, online=true where id=$1`, id, at)
	return err
}

type accounts struct{ db *sql.DB }

func (a accounts) Find(ctx context.Context, id string) (*access.Account, error) {
	return scanAccount(a.db.QueryRowContext(ctx, accountQuery+` where id=$1`, id))
}

const accountQuery = `
	select id, email, coalesce(first_name,''), coalesce(last_name,''), role,
	       coalesce(city_id,''), active, password_hash, created_at, updated_at, last_login_at
	from accounts`

func scanAccount(row *sql.Row) (*access.Account, error) {
	var acc access.Account
	var lastLogin sql.NullTime
	err := row.Scan(&acc.ID, &acc.Email, &acc.FirstName, &acc.LastName, &acc.Role,
		&acc.TenantID, &acc.Active, &acc.PasswordHash, &acc.CreatedAt, &acc.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		acc.LastLoginAt = &lastLogin.Time
	}
	return &acc, nil
}

type grants struct{ db *sql.DB }

func (g grants) Find(ctx context.Context, accountID, lockID string) (*access.PermissionGrant, error) {
	var grant access.PermissionGrant
	var validTo sql.NullTime
	err := g.db.QueryRowContext(ctx, `
		select id, account_id, lock_id, can_access, valid_from, valid_to, created_at
		from permission_grants where account_id=$1 and lock_id=$2
	`, accountID, lockID).Scan(&grant.ID, &grant.AccountID, &grant.LockID, &grant.CanAccess,
		&grant.ValidFrom, &validTo, &grant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if validTo.Valid {
		grant.ValidTo = &validTo.Time
	}
	return &grant, nil
}

func (g grants) Upsert(ctx context.Context, grant *access.PermissionGrant) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	_, err := g.db.ExecContext(ctx, `
		insert into permission_grants(id, account_id, lock_id, can_access, valid_from, valid_to, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (account_id, lock_id) do update
		set can_access = excluded.can_access,
		    valid_from = excluded.valid_from,
		    valid_to   = excluded.valid_to
	`, grant.ID, grant.AccountID, grant.LockID, grant.CanAccess, grant.ValidFrom, grant.ValidTo, grant.CreatedAt)
	return err
}

func (g grants) Delete(ctx context.Context, accountID, lockID string) error {
	res, err := g.db.ExecContext(ctx, `
		delete from permission_grants where account_id=$1 and lock_id=$2
	`, accountID, lockID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return access.ErrNotFound
	}
	return nil
}

type records struct{ db *sql.DB }

func (r records) Create(ctx context.Context, rec *access.AccessRecord) error {
	_, err := r.db.ExecContext(ctx, `
		insert into access_records(id, ts, result, access_type, lock_id, city_id, account_id, credential_id, device_info, metadata)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),nullif($8,''),$9,$10)
	`, rec.ID, rec.Timestamp, string(rec.Outcome), rec.AccessType, rec.LockID,
		rec.TenantID, rec.AccountID, rec.CredentialID, kvJSON(rec.DeviceInfo), kvJSON(rec.Metadata))
	return err
}

func (r records) List(ctx context.Context, filter access.RecordFilter) ([]*access.AccessRecord, int, error) {
	where, args := recordWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`select count(*) from access_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx, `
		select id, ts, result, access_type, lock_id, coalesce(city_id,''), coalesce(account_id,''),
		       coalesce(credential_id,''), device_info, metadata
		from access_records`+where+fmt.Sprintf(`
		order by ts desc
		limit $%d offset $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []*access.AccessRecord
	for rows.Next() {
		var rec access.AccessRecord
		var result string
		var device, meta []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &result, &rec.AccessType, &rec.LockID,
			&rec.TenantID, &rec.AccountID, &rec.CredentialID, &device, &meta); err != nil {
			return nil, 0, err
		}
		rec.Outcome = access.Outcome(result)
		rec.DeviceInfo = parseKV(device)
		rec.Metadata = parseKV(meta)
		res = append(res, &rec)
	}
	return res, total, rows.Err()
}

func recordWhere(filter access.RecordFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if filter.TenantID != "" {
		add("city_id=$%d", filter.TenantID)
	}
	if filter.AccountID != "" {
		add("account_id=$%d", filter.AccountID)
	}
	if filter.LockID != "" {
		add("lock_id=$%d", filter.LockID)
	}
	if filter.Outcome != "" {
		add("result=$%d", string(filter.Outcome))
	}
	if filter.From != nil {
		add("ts >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ts < $%d", *filter.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}
