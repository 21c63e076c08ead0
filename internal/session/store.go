package session

import (
	"context"
	"time"

	"citykey.org/internal/access"
)

// RefreshToken is the server-side row backing one opaque refresh JWT. The jti
// claim of the JWT equals ID; the token body itself is never stored.
type RefreshToken struct {
	ID           string
	AccountID    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	Revoked      bool
	ReplacedByID string
}

// Usable reports whether the token can still be presented for rotation.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.ReplacedByID == "" && t.ExpiresAt.After(now)
}

// TokenStore persists refresh token state.
type TokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate atomically retires the old token and creates its successor: the
	// old row is marked revoked with a forward pointer to next.ID, and the
	// next row is inserted, all in one transaction. It fails with
	// access.ErrNotFound when the old token does not exist and ErrInvalidToken
	// when it is no longer usable, in which case nothing is written.
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	// RevokeAllForAccount revokes every live token of one account and returns
	// how many were affected.
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// Directory resolves accounts for authentication.
type Directory interface {
	FindAccount(ctx context.Context, id string) (*access.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*access.Account, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
