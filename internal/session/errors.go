package session

import "errors"

var (
	// ErrInvalidToken covers every token failure mode: malformed, bad
	// signature, expired, revoked, already rotated, wrong type, or issued to a
	// deactivated account. Callers get no finer distinction so the API leaks
	// nothing about why a token stopped working.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrInvalidCredentials rejects a login with a wrong email or password.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
)
