package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.uber.org/zap"
)

// TokenServiceConfig holds token lifetimes
type TokenServiceConfig struct {
	RefreshTokenExpiry time.Duration
	APITokenExpiry     time.Duration
}

// tokenService implements TokenService interface
type tokenService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *utils.JWTManager
	blacklist  TokenBlacklist
	metrics    *observability.AuthMetrics
	logger     *zap.Logger
	cfg        TokenServiceConfig
	now        func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	jwtManager *utils.JWTManager,
	blacklist TokenBlacklist,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	cfg TokenServiceConfig,
) TokenService {
	if metrics == nil {
		metrics = observability.NoopAuthMetrics()
	}
	return &tokenService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
		blacklist:  blacklist,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// IssueAccessToken signs a short-lived access token. Nothing is stored.
func (s *tokenService) IssueAccessToken(user *domain.User, client domain.ClientRef) (string, time.Time, error) {
	token, expiresAt, err := s.jwtManager.GenerateAccessToken(utils.AccessSubject{
		UserID:           user.ID,
		Client:           client,
		Email:            user.Email,
		Role:             user.Role,
		TwoFactorEnabled: user.TwoFactorEnabled,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	s.metrics.TokenIssued(context.Background(), string(domain.TokenKindAccess))
	return token, expiresAt, nil
}

// IssueRefreshToken signs a refresh token and stores its digest
func (s *tokenService) IssueRefreshToken(ctx context.Context, user *domain.User, client domain.ClientRef) (string, time.Time, error) {
	token, expiresAt, err := s.jwtManager.GenerateRefreshToken(user.ID, client)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	record := &domain.Token{
		Kind:      domain.TokenKindRefresh,
		TokenHash: utils.HashToken(token),
		UserID:    user.ID,
		ClientID:  optionalString(client.ID),
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.metrics.TokenIssued(ctx, string(domain.TokenKindRefresh))
	return token, expiresAt, nil
}

// IssuePair issues an access token and a stored refresh token for the same subject
func (s *tokenService) IssuePair(ctx context.Context, user *domain.User, client domain.ClientRef) (*domain.TokenPair, error) {
	accessToken, accessExpiresAt, err := s.IssueAccessToken(user, client)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExpiresAt, err := s.IssueRefreshToken(ctx, user, client)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// Refresh exchanges a stored refresh token for a new pair. The presented token is revoked.
func (s *tokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	tokenHash := utils.HashToken(refreshToken)
	stored, err := s.tokenRepo.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrInvalidToken, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get refresh token: %w", err))
	}
	if stored.Kind != domain.TokenKindRefresh || stored.UserID != claims.UserID ||
		derefString(stored.ClientID) != claims.Client.ID {
		return nil, apperr.ErrInvalidToken
	}
	if stored.IsRevoked {
		return nil, apperr.ErrTokenRevoked
	}
	if !stored.Usable(s.now()) {
		return nil, apperr.ErrTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrInvalidToken, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	if !user.IsActive() {
		return nil, apperr.ErrInvalidToken
	}

	consumed, err := s.tokenRepo.Consume(ctx, tokenHash, domain.TokenKindRefresh, s.now())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to rotate refresh token: %w", err))
	}
	if !consumed {
		// a concurrent refresh or logout got there first
		return nil, apperr.ErrTokenRevoked
	}
	s.metrics.TokenRevoked(ctx, string(domain.TokenKindRefresh))

	pair, err := s.IssuePair(ctx, user, claims.Client)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return pair, nil
}

// Revoke invalidates a token. Revoking an unknown or already revoked token is not an error.
func (s *tokenService) Revoke(ctx context.Context, value string, kind domain.TokenKind) error {
	switch kind {
	case domain.TokenKindAccess:
		claims, err := s.jwtManager.ValidateAccessToken(value)
		if err != nil {
			// expired or foreign tokens are already unusable
			return nil
		}
		ttl := claims.ExpiresAt().Sub(s.now())
		if err := s.blacklist.Add(ctx, claims.TokenID, ttl); err != nil {
			return apperr.Internal(err)
		}
	case domain.TokenKindRefresh, domain.TokenKindAPI:
		if _, err := s.tokenRepo.Revoke(ctx, utils.HashToken(value), kind); err != nil {
			return apperr.Internal(fmt.Errorf("failed to revoke token: %w", err))
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown token kind %q", kind))
	}

	s.metrics.TokenRevoked(ctx, string(kind))
	return nil
}

// RevokeOwned revokes a stored token only when it belongs to userID. Unknown tokens and
// tokens owned by someone else are left alone.
func (s *tokenService) RevokeOwned(ctx context.Context, userID, value string, kind domain.TokenKind) error {
	stored, err := s.tokenRepo.GetByHash(ctx, utils.HashToken(value))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Internal(fmt.Errorf("failed to get token: %w", err))
	}
	if stored.UserID != userID || stored.Kind != kind {
		s.logger.Warn("Refusing to revoke token of another user",
			zap.String("user_id", userID),
			zap.String("token_id", stored.ID),
		)
		return nil
	}
	return s.Revoke(ctx, value, kind)
}

// RevokeAllForUser revokes every stored token of a user
func (s *tokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	n, err := s.tokenRepo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if n > 0 {
		s.logger.Info("Revoked user tokens", zap.String("user_id", userID), zap.Int64("count", n))
	}
	return nil
}

// RevokeAllForClient revokes every stored token bound to a client
func (s *tokenService) RevokeAllForClient(ctx context.Context, clientID string) error {
	n, err := s.tokenRepo.RevokeAllForClient(ctx, clientID)
	if err != nil {
		return apperr.Internal(err)
	}
	if n > 0 {
		s.logger.Info("Revoked client tokens", zap.String("client_id", clientID), zap.Int64("count", n))
	}
	return nil
}

// ValidateAccessToken checks signature, expiry and the blacklist
func (s *tokenService) ValidateAccessToken(ctx context.Context, value string) (*domain.TokenClaims, error) {
	claims, err := s.jwtManager.ValidateAccessToken(value)
	if err != nil {
		return nil, err
	}

	blacklisted, err := s.blacklist.Contains(ctx, claims.TokenID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if blacklisted {
		return nil, apperr.ErrTokenRevoked
	}

	return claims, nil
}

// IssueAPIToken creates an opaque API token bound to a client
func (s *tokenService) IssueAPIToken(ctx context.Context, client *domain.Client) (string, time.Time, error) {
	token, err := utils.GenerateAPIToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate api token: %w", err)
	}

	now := s.now()
	record := &domain.Token{
		Kind:      domain.TokenKindAPI,
		TokenHash: utils.HashToken(token),
		UserID:    client.UserID,
		ClientID:  optionalString(client.ID),
		ExpiresAt: now.Add(s.cfg.APITokenExpiry),
		CreatedAt: now,
	}
	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to save api token: %w", err)
	}

	s.metrics.TokenIssued(ctx, string(domain.TokenKindAPI))
	return token, record.ExpiresAt, nil
}

// ValidateAPIToken resolves a presented API token to its stored record
func (s *tokenService) ValidateAPIToken(ctx context.Context, value string) (*domain.Token, error) {
	stored, err := s.tokenRepo.GetByHash(ctx, utils.HashToken(value))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get api token: %w", err))
	}
	if stored.Kind != domain.TokenKindAPI {
		return nil, apperr.ErrInvalidToken
	}
	if stored.IsRevoked {
		return nil, apperr.ErrTokenRevoked
	}
	if !stored.Usable(s.now()) {
		return nil, apperr.ErrTokenExpired
	}
	return stored, nil
}

// CleanupExpired marks expired tokens revoked, then deletes everything revoked or expired.
// Both statements are set based, so a concurrent logout between them is harmless.
func (s *tokenService) CleanupExpired(ctx context.Context, now time.Time) (domain.CleanupResult, error) {
	revoked, err := s.tokenRepo.RevokeExpired(ctx, now)
	if err != nil {
		return domain.CleanupResult{}, fmt.Errorf("failed to revoke expired tokens: %w", err)
	}

	deleted, err := s.tokenRepo.DeleteRevokedOrExpired(ctx, now)
	if err != nil {
		return domain.CleanupResult{Revoked: revoked}, fmt.Errorf("failed to delete tokens: %w", err)
	}

	s.metrics.CleanupRemoved(ctx, deleted)
	return domain.CleanupResult{Revoked: revoked, Deleted: deleted}, nil
}

// AccessTokenTTL returns the configured access token lifetime
func (s *tokenService) AccessTokenTTL() time.Duration {
	return time.Duration(s.jwtManager.GetAccessTokenExpiry()) * time.Second
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
