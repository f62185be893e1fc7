package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
)

// AuthService defines methods for authentication operations
type AuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	VerifyTwoFactor(ctx context.Context, req *dto.VerifyTwoFactorRequest) (*dto.LoginResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*dto.RefreshResponse, error)
	Logout(ctx context.Context, principal *domain.Principal, bearer, refreshToken string) error
	ChangePassword(ctx context.Context, userID string, req *dto.ChangePasswordRequest) error
	ChangeSecret(ctx context.Context, userID string, req *dto.ChangeSecretRequest) (*dto.ChangeSecretResponse, error)
	GenerateToken(ctx context.Context, req *dto.GenerateTokenRequest) (*dto.GenerateTokenResponse, error)
	GetMe(ctx context.Context, userID string) (*dto.MeResponse, error)
	Authenticate(ctx context.Context, bearer string) (*domain.Principal, error)
}

// TokenService issues, validates and revokes bearer tokens
type TokenService interface {
	IssueAccessToken(user *domain.User, client domain.ClientRef) (string, time.Time, error)
	IssueRefreshToken(ctx context.Context, user *domain.User, client domain.ClientRef) (string, time.Time, error)
	IssuePair(ctx context.Context, user *domain.User, client domain.ClientRef) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Revoke(ctx context.Context, value string, kind domain.TokenKind) error
	RevokeOwned(ctx context.Context, userID, value string, kind domain.TokenKind) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeAllForClient(ctx context.Context, clientID string) error
	ValidateAccessToken(ctx context.Context, value string) (*domain.TokenClaims, error)
	IssueAPIToken(ctx context.Context, client *domain.Client) (string, time.Time, error)
	ValidateAPIToken(ctx context.Context, value string) (*domain.Token, error)
	CleanupExpired(ctx context.Context, now time.Time) (domain.CleanupResult, error)
	AccessTokenTTL() time.Duration
}

// TwoFactorService manages the TOTP lifecycle of a user
type TwoFactorService interface {
	Generate(ctx context.Context, userID string) (*dto.GenerateTwoFactorResponse, error)
	Enable(ctx context.Context, userID string, req *dto.EnableTwoFactorRequest) (*dto.EnableTwoFactorResponse, error)
	Disable(ctx context.Context, userID string, req *dto.DisableTwoFactorRequest) error
	VerifyLogin(ctx context.Context, user *domain.User, code, backupCode string) error
}

// ClientAdminService defines admin operations on clients and users
type ClientAdminService interface {
	ListClients(ctx context.Context, query *dto.ListClientsQuery) (*dto.ClientListResponse, error)
	ApproveClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error)
	SuspendClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error)
	RevokeClient(ctx context.Context, adminID, id string) (*dto.ClientResponse, error)
	DeleteUser(ctx context.Context, adminID, userID string) error
	CleanupTokens(ctx context.Context) (*dto.CleanupResponse, error)
}

// TokenBlacklist remembers revoked access tokens until they expire on their own
type TokenBlacklist interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// RateLimiter decides whether a keyed request fits in its window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult describes a rate limit decision
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Notifier delivers account notifications
type Notifier interface {
	SendWelcome(ctx context.Context, email string, client *domain.Client) error
	SendClientStatusChanged(ctx context.Context, email string, client *domain.Client) error
}
