package pg

import (
	"context"
	"time"

	"citykey.org/internal/access"
)

// DeactivateExpiredCredentials flips active credentials whose expiry has
// passed and returns the affected rows so the caller can audit each one.
func (s *Store) DeactivateExpiredCredentials(ctx context.Context, now time.Time) ([]*access.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		update credentials
		set active=false
		where active=true and expires_at is not null and expires_at < $1
		returning id, card_id, account_id, coalesce(name,''), expires_at, issued_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*access.Credential
	for rows.Next() {
		var cred access.Credential
		var expires time.Time
		if err := rows.Scan(&cred.ID, &cred.CardID, &cred.AccountID, &cred.Name, &expires, &cred.IssuedAt); err != nil {
			return nil, err
		}
		cred.ExpiresAt = &expires
		res = append(res, &cred)
	}
	return res, rows.Err()
}

// PurgeExpiredRefreshTokens deletes refresh token rows past their expiry,
// revoked or not. Live tokens are never touched.
func (s *Store) PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
