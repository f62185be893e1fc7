package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
)

// AccessSubject is what gets encoded into an access token
type AccessSubject struct {
	UserID           string
	Client           domain.ClientRef
	Email            string
	Role             domain.Role
	TwoFactorEnabled bool
}

// RefreshClaims are the identifying claims of a refresh token
type RefreshClaims struct {
	UserID    string
	Client    domain.ClientRef
	TokenID   string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID           string `json:"user_id"`
	ClientID         string `json:"client_id,omitempty"`
	ClientRef        string `json:"client_ref,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	TwoFactorEnabled bool   `json:"two_factor_enabled,omitempty"`
	Type             string `json:"type"`
	jwt.RegisteredClaims
}

// JWTManager manages JWT token operations
type JWTManager struct {
	secret             []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret, issuer string, accessTokenExpiry, refreshTokenExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:             []byte(secret),
		issuer:             issuer,
		accessTokenExpiry:  accessTokenExpiry,
		refreshTokenExpiry: refreshTokenExpiry,
		now:                time.Now,
	}
}

// WithClock replaces the time source used for issuing and validating tokens
func (j *JWTManager) WithClock(now func() time.Time) *JWTManager {
	j.now = now
	return j
}

// GenerateAccessToken generates a new access token
func (j *JWTManager) GenerateAccessToken(subject AccessSubject) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.accessTokenExpiry)

	claims := tokenClaims{
		UserID:           subject.UserID,
		ClientID:         subject.Client.ClientID,
		ClientRef:        subject.Client.ID,
		Email:            subject.Email,
		Role:             string(subject.Role),
		TwoFactorEnabled: subject.TwoFactorEnabled,
		Type:             string(domain.TokenKindAccess),
		RegisteredClaims: j.registered(subject.UserID, now, expiresAt),
	}

	tokenString, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, claims.ExpiresAt.Time, nil
}

// GenerateRefreshToken generates a new refresh token
func (j *JWTManager) GenerateRefreshToken(userID string, client domain.ClientRef) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.refreshTokenExpiry)

	claims := tokenClaims{
		UserID:           userID,
		ClientID:         client.ClientID,
		ClientRef:        client.ID,
		Type:             string(domain.TokenKindRefresh),
		RegisteredClaims: j.registered(userID, now, expiresAt),
	}

	tokenString, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return tokenString, claims.ExpiresAt.Time, nil
}

// ValidateAccessToken validates an access token and returns its claims
func (j *JWTManager) ValidateAccessToken(tokenString string) (*domain.TokenClaims, error) {
	claims, err := j.parse(tokenString, domain.TokenKindAccess)
	if err != nil {
		return nil, err
	}

	return &domain.TokenClaims{
		UserID:           claims.UserID,
		ClientID:         claims.ClientID,
		ClientRef:        claims.ClientRef,
		Email:            claims.Email,
		Role:             domain.Role(claims.Role),
		TwoFactorEnabled: claims.TwoFactorEnabled,
		TokenID:          claims.ID,
		Exp:              claims.ExpiresAt.Unix(),
		Iat:              claims.IssuedAt.Unix(),
	}, nil
}

// ValidateRefreshToken validates a refresh token and returns its identifying claims
func (j *JWTManager) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims, err := j.parse(tokenString, domain.TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	return &RefreshClaims{
		UserID:    claims.UserID,
		Client:    domain.ClientRef{ID: claims.ClientRef, ClientID: claims.ClientID},
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// GetAccessTokenExpiry returns the access token expiry duration in seconds
func (j *JWTManager) GetAccessTokenExpiry() int {
	return int(j.accessTokenExpiry.Seconds())
}

func (j *JWTManager) registered(subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    j.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (j *JWTManager) sign(claims tokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// parse verifies signature, issuer, type and expiry. Expiry is checked against the manager's
// clock with no leeway, so a token expiring exactly now is rejected.
func (j *JWTManager) parse(tokenString string, kind domain.TokenKind) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return j.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.ErrTokenExpired, err)
		}
		return nil, apperr.Wrap(apperr.ErrInvalidToken, err)
	}

	if claims.Type != string(kind) {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, fmt.Errorf("unexpected token type %q", claims.Type))
	}
	if claims.UserID == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, fmt.Errorf("missing user_id claim"))
	}
	if !j.now().Before(claims.ExpiresAt.Time) {
		return nil, apperr.ErrTokenExpired
	}

	return claims, nil
}
