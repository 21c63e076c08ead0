package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/session"
)

var (
	_ session.TokenStore = (*Store)(nil)
	_ session.Directory  = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
)

func (s *Store) Create(ctx context.Context, token *session.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, account_id, expires_at, created_at, revoked)
		values ($1,$2,$3,$4,false)
	`, token.ID, token.AccountID, token.ExpiresAt, token.CreatedAt)
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*session.RefreshToken, error) {
	var tok session.RefreshToken
	var replacedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, expires_at, created_at, revoked, replaced_by_id
		from refresh_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.AccountID, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if replacedBy.Valid {
		tok.ReplacedByID = replacedBy.String
	}
	return &tok, nil
}

// Rotate retires the old token and inserts its successor in one transaction.
// The guarded update only matches a still-live row, so two concurrent
// rotations of the same token cannot both succeed.
func (s *Store) Rotate(ctx context.Context, oldID string, next *session.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens
		set revoked=true, replaced_by_id=$2
		where id=$1 and revoked=false and replaced_by_id is null
	`, oldID, next.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from refresh_tokens where id=$1)`, oldID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return access.ErrNotFound
		}
		return session.ErrInvalidToken
	}

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens(id, account_id, expires_at, created_at, revoked)
		values ($1,$2,$3,$4,false)
	`, next.ID, next.AccountID, next.ExpiresAt, next.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked=true
		where account_id=$1 and revoked=false
	`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) FindAccount(ctx context.Context, id string) (*access.Account, error) {
	return s.Accounts(ctx).Find(ctx, id)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*access.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountQuery+` where lower(email)=lower($1)`, email))
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update accounts set last_login_at=$2 where id=$1`, id, at)
	return err
}

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, action, entity_type, entity_id, actor_id, old_values, new_values)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8)
	`, entry.ID, entry.OccurredAt, entry.Action, entry.EntityType, entry.EntityID,
		entry.ActorID, anyJSON(entry.OldValues), anyJSON(entry.NewValues))
	return err
}
