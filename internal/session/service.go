package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"citykey.org/internal/access"
	"citykey.org/internal/authz"
	"citykey.org/internal/ids"
	"citykey.org/internal/obs"
)

const (
	defaultIssuer     = "citykey"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both token types. TokenType distinguishes
// short-lived access tokens from rotating refresh tokens.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"city_id,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login or rotation returns.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service issues and validates session tokens. HS256 with a shared secret;
// refresh tokens are additionally tracked server-side so they can be revoked
// and are single-use.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	tokens TokenStore
	dir    Directory
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) Option {
	return func(s *Service) {
		if iss != "" {
			s.issuer = iss
		}
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a session service.
func NewService(secret []byte, tokens TokenStore, dir Directory, opts ...Option) (*Service, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session: secret must be at least 32 bytes, got %d", len(secret))
	}
	s := &Service{
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		tokens:     tokens,
		dir:        dir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies the email/password pair and opens a session. Unknown email,
// wrong password and deactivated account all collapse to
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*access.Account, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	account, err := s.dir.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("find account: %w", err)
	}
	if !account.Active {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.Issue(ctx, account)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	if err := s.dir.TouchLastLogin(ctx, account.ID, now); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"touch last login failed","account_id":%q,"error":%q}`, account.ID, err.Error())
	}
	return account, pair, nil
}

// Issue creates a fresh access/refresh pair for an already-authenticated
// account and records the refresh token server-side.
func (s *Service) Issue(ctx context.Context, account *access.Account) (*TokenPair, error) {
	now := s.now().UTC()

	refreshID := ids.New()
	refreshToken, err := s.signRefresh(account.ID, refreshID, now)
	if err != nil {
		return nil, err
	}
	row := &RefreshToken{
		ID:        refreshID,
		AccountID: account.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	accessToken, expiresAt, err := s.signAccess(account, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateAccessToken parses and verifies an access JWT and re-checks that
// the account behind it is still active. Any failure is ErrInvalidToken.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (*authz.Actor, error) {
	claims, err := s.parse(raw)
	if err != nil || claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	account, err := s.dir.FindAccount(ctx, claims.Subject)
	if err != nil || !account.Active {
		return nil, ErrInvalidToken
	}
	return &authz.Actor{
		AccountID: account.ID,
		Role:      account.Role,
		TenantID:  account.TenantID,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// single-use: its row gains a forward pointer to the successor and can never
// be presented again. A replay of a consumed, revoked, expired, malformed or
// mistyped token fails with ErrInvalidToken.
func (s *Service) Rotate(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := s.parse(raw)
	if err != nil || claims.TokenType != tokenTypeRefresh {
		obs.ObserveRotation("rejected")
		return nil, ErrInvalidToken
	}

	old, err := s.tokens.Find(ctx, claims.ID)
	if err != nil {
		obs.ObserveRotation("rejected")
		if errors.Is(err, access.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	now := s.now().UTC()
	if !old.Usable(now) {
		obs.ObserveRotation("rejected")
		return nil, ErrInvalidToken
	}

	account, err := s.dir.FindAccount(ctx, old.AccountID)
	if err != nil || !account.Active {
		obs.ObserveRotation("rejected")
		return nil, ErrInvalidToken
	}

	nextID := ids.New()
	next := &RefreshToken{
		ID:        nextID,
		AccountID: account.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Rotate(ctx, old.ID, next); err != nil {
		obs.ObserveRotation("rejected")
		if errors.Is(err, access.ErrNotFound) || errors.Is(err, ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	refreshToken, err := s.signRefresh(account.ID, nextID, now)
	if err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.signAccess(account, now)
	if err != nil {
		return nil, err
	}
	obs.ObserveRotation("ok")
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// RevokeAllForAccount invalidates every outstanding refresh token of one
// account. Outstanding access tokens keep working until they expire.
func (s *Service) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	return s.tokens.RevokeAllForAccount(ctx, accountID)
}

func (s *Service) signAccess(account *access.Account, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.accessTTL)
	claims := Claims{
		Email:     account.Email,
		Role:      string(account.Role),
		TenantID:  account.TenantID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) signRefresh(accountID, tokenID string, now time.Time) (string, error) {
	claims := Claims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    s.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return token, nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
