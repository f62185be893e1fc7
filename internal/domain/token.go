package domain

import "time"

// TokenKind distinguishes the credentials issued by the token service.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
	TokenKindAPI     TokenKind = "api"
)

// TokenClaims represents JWT access token claims
type TokenClaims struct {
	UserID           string `json:"user_id"`
	ClientID         string `json:"client_id,omitempty"`
	ClientRef        string `json:"client_ref,omitempty"`
	Email            string `json:"email"`
	Role             Role   `json:"role"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	TokenID          string `json:"jti"`
	Exp              int64  `json:"exp"`
	Iat              int64  `json:"iat"`
}

// ExpiresAt returns the expiration claim as a time
func (tc TokenClaims) ExpiresAt() time.Time {
	return time.Unix(tc.Exp, 0)
}

// IsExpired checks if the token is expired at now. A token expiring exactly at now is expired.
func (tc TokenClaims) IsExpired(now time.Time) bool {
	return now.Unix() >= tc.Exp
}

// Token is a persisted refresh or API token. Only the sha256 digest of the value is stored.
type Token struct {
	ID        string    `json:"id" db:"id"`
	Kind      TokenKind `json:"kind" db:"kind"`
	TokenHash string    `json:"-" db:"token_hash"`
	UserID    string    `json:"user_id" db:"user_id"`
	ClientID  *string   `json:"client_id,omitempty" db:"client_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IsRevoked bool      `json:"is_revoked" db:"is_revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Usable reports whether the token can still be exchanged or presented.
func (t *Token) Usable(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// CleanupResult counts what a token sweep changed.
type CleanupResult struct {
	Revoked int64 `json:"revoked"`
	Deleted int64 `json:"deleted"`
}

// Principal is the authenticated caller behind a bearer credential.
type Principal struct {
	UserID           string
	ClientID         string
	ClientRef        string
	Email            string
	Role             Role
	TwoFactorEnabled bool
	TokenKind        TokenKind
	TokenID          string
	ExpiresAt        time.Time
}

// IsAdmin reports whether the caller has the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
