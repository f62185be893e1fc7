package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/credential-service/internal/domain"
)

// UserRepository defines methods for user operations
type UserRepository interface {
	CreateWithClient(ctx context.Context, user *domain.User, client *domain.Client) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	EnableTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	SoftDelete(ctx context.Context, userID string, at time.Time) error
}

// ClientFilter narrows client listings
type ClientFilter struct {
	Status *domain.ClientStatus
	Limit  int
	Offset int
}

// ClientRepository defines methods for client operations
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Client, error)
	GetByClientID(ctx context.Context, clientID string) (*domain.Client, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Client, error)
	List(ctx context.Context, filter ClientFilter) ([]*domain.Client, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.ClientStatus, approvedBy *string, at time.Time) error
	UpdateSecret(ctx context.Context, id, secretHash string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	IncrementUsage(ctx context.Context, id string, now time.Time, period time.Duration) (domain.Usage, error)
}

// TokenRepository defines methods for stored token operations
type TokenRepository interface {
	Create(ctx context.Context, token *domain.Token) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.Token, error)
	Revoke(ctx context.Context, tokenHash string, kind domain.TokenKind) (bool, error)
	Consume(ctx context.Context, tokenHash string, kind domain.TokenKind, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RevokeAllForClient(ctx context.Context, clientID string) (int64, error)
	RevokeExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteRevokedOrExpired(ctx context.Context, now time.Time) (int64, error)
}
