package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.uber.org/zap"
)

const (
	loginMethodPassword = "password"
	loginMethodClient   = "client"

	clientIDAttempts = 3
	notifyTimeout    = 15 * time.Second
)

// AuthConfig holds settings for registration and client usage
type AuthConfig struct {
	BCryptCost       int
	UsageQuota       int
	UsageQuotaPeriod time.Duration
}

// authService implements AuthService interface
type authService struct {
	userRepo   repository.UserRepository
	clientRepo repository.ClientRepository
	tokens     TokenService
	twoFactor  TwoFactorService
	notifier   Notifier
	metrics    *observability.AuthMetrics
	logger     *zap.Logger
	cfg        AuthConfig
	now        func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo repository.UserRepository,
	clientRepo repository.ClientRepository,
	tokens TokenService,
	twoFactor TwoFactorService,
	notifier Notifier,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	cfg AuthConfig,
) AuthService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if metrics == nil {
		metrics = observability.NoopAuthMetrics()
	}
	return &authService{
		userRepo:   userRepo,
		clientRepo: clientRepo,
		tokens:     tokens,
		twoFactor:  twoFactor,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Register creates an active user together with a pending client and returns the client
// secret. The secret is not retrievable afterwards.
func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return nil, apperr.Validation("clientName is required")
	}
	if !utils.ValidateEmail(domain.NormalizeEmail(req.Email)) {
		return nil, apperr.Validation("Invalid email format")
	}
	if !utils.ValidatePassword(req.Password) {
		return nil, apperr.Validation("Password must be at least 8 characters long and contain a letter and a number")
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		return nil, apperr.Validation("Passwords do not match")
	}

	passwordHash, err := utils.HashPassword(req.Password, s.cfg.BCryptCost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	user := domain.NewUser(req.Email, passwordHash)

	var (
		client *domain.Client
		secret string
	)
	for attempt := 1; ; attempt++ {
		client, secret, err = s.newPendingClient(clientName, req.Description)
		if err != nil {
			return nil, apperr.Internal(err)
		}

		err = s.userRepo.CreateWithClient(ctx, user, client)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperr.Wrap(apperr.ErrEmailTaken, err)
		}
		if errors.Is(err, repository.ErrDuplicateClientID) && attempt < clientIDAttempts {
			user.ID = ""
			continue
		}
		return nil, apperr.Internal(fmt.Errorf("failed to create user: %w", err))
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("client_id", client.ClientID),
	)
	s.notifyAsync(ctx, "welcome", func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, user.Email, client)
	})

	return &dto.RegisterResponse{
		Data: dto.RegisterData{
			User:         toUserInfo(user),
			Client:       toClientInfo(client),
			ClientSecret: secret,
		},
	}, nil
}

// Login authenticates with email+password or clientId+clientSecret. Users with 2FA enabled
// get a challenge and no tokens.
func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	if req.UsesClientCredentials() {
		if req.ClientID == "" || req.ClientSecret == "" {
			return nil, apperr.Validation("clientId and clientSecret are required")
		}
		client, user, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
		if err != nil {
			s.loginFailed(ctx, loginMethodClient, req.ClientID, err)
			return nil, err
		}
		return s.completeLogin(ctx, loginMethodClient, user, client)
	}

	if req.Email == "" || req.Password == "" {
		return nil, apperr.Validation("Either email and password or clientId and clientSecret are required")
	}
	user, err := s.authenticatePassword(ctx, req.Email, req.Password)
	if err != nil {
		s.loginFailed(ctx, loginMethodPassword, domain.NormalizeEmail(req.Email), err)
		return nil, err
	}

	client, err := s.primaryClient(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.completeLogin(ctx, loginMethodPassword, user, client)
}

// VerifyTwoFactor finishes a login that returned a challenge
func (s *authService) VerifyTwoFactor(ctx context.Context, req *dto.VerifyTwoFactorRequest) (*dto.LoginResponse, error) {
	if strings.TrimSpace(req.Token) == "" && strings.TrimSpace(req.BackupCode) == "" {
		return nil, apperr.Validation("token or backupCode is required")
	}

	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrUserNotFound, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	if !user.IsActive() {
		return nil, apperr.ErrAccountDisabled
	}

	// client checks must run before the second factor is consumed
	var client *domain.Client
	if req.ClientID != "" {
		client, err = s.clientRepo.GetByClientID(ctx, req.ClientID)
		if err != nil || client.UserID != user.ID {
			return nil, apperr.ErrInvalidCredentials
		}
		if err := clientStatusError(client); err != nil {
			return nil, err
		}
	} else if client, err = s.primaryClient(ctx, user.ID); err != nil {
		return nil, err
	}

	if err := s.twoFactor.VerifyLogin(ctx, user, req.Token, req.BackupCode); err != nil {
		s.logger.Warn("Two-factor verification failed",
			zap.String("user_id", user.ID),
			zap.String("reason", apperr.As(err).Code),
		)
		return nil, err
	}

	return s.issueTokens(ctx, loginMethodPassword, user, client)
}

// RefreshToken rotates a refresh token
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*dto.RefreshResponse, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	return &dto.RefreshResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		TokenType:             tokenTypeBearer,
		ExpiresIn:             int(s.tokens.AccessTokenTTL().Seconds()),
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}, nil
}

// Logout revokes the presented bearer credential and, when given, the caller's refresh token
func (s *authService) Logout(ctx context.Context, principal *domain.Principal, bearer, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, bearer, principal.TokenKind); err != nil {
		return err
	}

	if refreshToken != "" {
		if err := s.tokens.RevokeOwned(ctx, principal.UserID, refreshToken, domain.TokenKindRefresh); err != nil {
			return err
		}
	}

	s.logger.Info("User logged out", zap.String("user_id", principal.UserID))
	return nil
}

// ChangePassword verifies the current password, stores the new hash and revokes stored tokens
func (s *authService) ChangePassword(ctx context.Context, userID string, req *dto.ChangePasswordRequest) error {
	if req.NewPassword != req.ConfirmPassword {
		return apperr.Validation("Passwords do not match")
	}
	if !utils.ValidatePassword(req.NewPassword) {
		return apperr.Validation("Password must be at least 8 characters long and contain a letter and a number")
	}
	if req.NewPassword == req.CurrentPassword {
		return apperr.Validation("New password must differ from the current password")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Wrap(apperr.ErrUserNotFound, err)
		}
		return apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}

	if !utils.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		return apperr.WithMessage(apperr.ErrInvalidCredentials, "Current password is incorrect")
	}

	passwordHash, err := utils.HashPassword(req.NewPassword, s.cfg.BCryptCost)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return apperr.Internal(fmt.Errorf("failed to update password: %w", err))
	}

	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}

	s.logger.Info("Password changed", zap.String("user_id", user.ID))
	return nil
}

// ChangeSecret rotates the secret of a client owned by the caller and revokes its tokens
func (s *authService) ChangeSecret(ctx context.Context, userID string, req *dto.ChangeSecretRequest) (*dto.ChangeSecretResponse, error) {
	client, err := s.clientRepo.GetByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrClientNotFound, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get client: %w", err))
	}
	if client.UserID != userID {
		return nil, apperr.ErrForbidden
	}
	if !utils.ConstantTimeEqual(utils.HashToken(req.CurrentSecret), client.SecretHash) {
		return nil, apperr.WithMessage(apperr.ErrInvalidCredentials, "Current secret is incorrect")
	}
	if client.Status == domain.ClientStatusRevoked {
		return nil, apperr.WithMessage(apperr.ErrForbidden, "Client has been revoked")
	}

	secret, err := utils.GenerateClientSecret()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate client secret: %w", err))
	}
	if err := s.clientRepo.UpdateSecret(ctx, client.ID, utils.HashToken(secret)); err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to update client secret: %w", err))
	}

	if err := s.tokens.RevokeAllForClient(ctx, client.ID); err != nil {
		return nil, err
	}

	s.logger.Info("Client secret rotated",
		zap.String("user_id", userID),
		zap.String("client_id", client.ClientID),
	)
	return &dto.ChangeSecretResponse{ClientID: client.ClientID, ClientSecret: secret}, nil
}

// GenerateToken exchanges client credentials for an API token, counting it against the quota
func (s *authService) GenerateToken(ctx context.Context, req *dto.GenerateTokenRequest) (*dto.GenerateTokenResponse, error) {
	client, _, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		s.loginFailed(ctx, "api_token", req.ClientID, err)
		return nil, err
	}

	usage, err := s.clientRepo.IncrementUsage(ctx, client.ID, s.now(), s.cfg.UsageQuotaPeriod)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to count client usage: %w", err))
	}
	if usage.Exceeded() {
		s.logger.Warn("Client quota exceeded",
			zap.String("client_id", client.ClientID),
			zap.Int("usage_count", usage.Count),
			zap.Int("usage_quota", usage.Quota),
		)
		return nil, apperr.ErrQuotaExceeded
	}

	token, expiresAt, err := s.tokens.IssueAPIToken(ctx, client)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &dto.GenerateTokenResponse{
		Token:      token,
		TokenType:  tokenTypeBearer,
		ExpiresAt:  expiresAt,
		UsageCount: usage.Count,
		UsageQuota: usage.Quota,
	}, nil
}

// GetMe returns the caller and their clients
func (s *authService) GetMe(ctx context.Context, userID string) (*dto.MeResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrUserNotFound, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}

	clients, err := s.clientRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list clients: %w", err))
	}

	return &dto.MeResponse{User: toUserInfo(user), Clients: toClientInfos(clients)}, nil
}

// Authenticate resolves a bearer credential: an access JWT, or an API token issued to a client
func (s *authService) Authenticate(ctx context.Context, bearer string) (*domain.Principal, error) {
	if !utils.IsAPIToken(bearer) {
		claims, err := s.tokens.ValidateAccessToken(ctx, bearer)
		if err != nil {
			return nil, err
		}
		return &domain.Principal{
			UserID:           claims.UserID,
			ClientID:         claims.ClientID,
			ClientRef:        claims.ClientRef,
			Email:            claims.Email,
			Role:             claims.Role,
			TwoFactorEnabled: claims.TwoFactorEnabled,
			TokenKind:        domain.TokenKindAccess,
			TokenID:          claims.TokenID,
			ExpiresAt:        claims.ExpiresAt(),
		}, nil
	}

	stored, err := s.tokens.ValidateAPIToken(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if stored.ClientID == nil {
		return nil, apperr.ErrInvalidToken
	}

	client, err := s.clientRepo.GetByID(ctx, *stored.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get client: %w", err))
	}
	if err := clientStatusError(client); err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			return nil, apperr.ErrTokenRevoked
		}
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	if !user.IsActive() {
		return nil, apperr.ErrAccountDisabled
	}

	return &domain.Principal{
		UserID:           user.ID,
		ClientID:         client.ClientID,
		ClientRef:        client.ID,
		Email:            user.Email,
		Role:             user.Role,
		TwoFactorEnabled: user.TwoFactorEnabled,
		TokenKind:        domain.TokenKindAPI,
		TokenID:          stored.ID,
		ExpiresAt:        stored.ExpiresAt,
	}, nil
}

// authenticatePassword checks email and password. The account status is only revealed once
// the password has verified.
func (s *authService) authenticatePassword(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.ErrInvalidCredentials, err)
		}
		return nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}

	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, apperr.ErrAccountDisabled
	}

	return user, nil
}

// authenticateClient checks a client secret, then the client's and owner's status
func (s *authService) authenticateClient(ctx context.Context, clientID, secret string) (*domain.Client, *domain.User, error) {
	client, err := s.clientRepo.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.Wrap(apperr.ErrInvalidCredentials, err)
		}
		return nil, nil, apperr.Internal(fmt.Errorf("failed to get client: %w", err))
	}

	if !utils.ConstantTimeEqual(utils.HashToken(secret), client.SecretHash) {
		return nil, nil, apperr.ErrInvalidCredentials
	}
	if err := clientStatusError(client); err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.GetByID(ctx, client.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.Wrap(apperr.ErrInvalidCredentials, err)
		}
		return nil, nil, apperr.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	if !user.IsActive() {
		return nil, nil, apperr.ErrAccountDisabled
	}

	return client, user, nil
}

// clientStatusError maps a non-active client to the error its caller sees
func clientStatusError(client *domain.Client) error {
	switch client.Status {
	case domain.ClientStatusActive:
		return nil
	case domain.ClientStatusPending:
		return apperr.ErrPendingApproval
	case domain.ClientStatusSuspended:
		return apperr.ErrClientSuspended
	default:
		return apperr.ErrInvalidCredentials
	}
}

// primaryClient picks the client an email login is bound to: the oldest active client,
// else the oldest one that is not revoked. Users may have none.
func (s *authService) primaryClient(ctx context.Context, userID string) (*domain.Client, error) {
	clients, err := s.clientRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list clients: %w", err))
	}

	var fallback *domain.Client
	for _, c := range clients {
		if c.IsActive() {
			return c, nil
		}
		if fallback == nil && c.Status != domain.ClientStatusRevoked {
			fallback = c
		}
	}
	return fallback, nil
}

func (s *authService) completeLogin(ctx context.Context, method string, user *domain.User, client *domain.Client) (*dto.LoginResponse, error) {
	if user.TwoFactorEnabled {
		s.metrics.LoginAttempt(ctx, method, "two_factor_required")
		s.logger.Info("Login requires two-factor verification", zap.String("user_id", user.ID))
		return newTwoFactorChallenge(user, client), nil
	}
	return s.issueTokens(ctx, method, user, client)
}

func (s *authService) issueTokens(ctx context.Context, method string, user *domain.User, client *domain.Client) (*dto.LoginResponse, error) {
	pair, err := s.tokens.IssuePair(ctx, user, client.Ref())
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Error("Failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}
	if client != nil && method == loginMethodClient {
		if err := s.clientRepo.TouchLastUsed(ctx, client.ID, now); err != nil {
			s.logger.Error("Failed to update client last use", zap.String("client_id", client.ClientID), zap.Error(err))
		} else {
			client.LastUsedAt = &now
		}
	}

	s.metrics.LoginAttempt(ctx, method, "success")
	return s.newTokenResponse(user, client, pair), nil
}

func (s *authService) loginFailed(ctx context.Context, method, identity string, err error) {
	reason := apperr.As(err)
	s.metrics.LoginAttempt(ctx, method, "failure")
	s.logger.Warn("Login failed",
		zap.String("method", method),
		zap.String("identity", identity),
		zap.String("reason", reason.Code),
	)
}

func (s *authService) newPendingClient(name string, description *string) (*domain.Client, string, error) {
	clientID, err := utils.GenerateClientID()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate client id: %w", err)
	}
	secret, err := utils.GenerateClientSecret()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate client secret: %w", err)
	}

	now := s.now()
	return &domain.Client{
		Name:        name,
		Description: description,
		ClientID:    clientID,
		SecretHash:  utils.HashToken(secret),
		Status:      domain.ClientStatusPending,
		UsageQuota:  s.cfg.UsageQuota,
		ResetDate:   now.Add(s.cfg.UsageQuotaPeriod),
		CreatedAt:   now,
	}, secret, nil
}

// notifyAsync sends a notification without holding up the request. Failures are logged only.
func (s *authService) notifyAsync(ctx context.Context, kind string, send func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.Warn("Failed to send notification", zap.String("kind", kind), zap.Error(err))
		}
	}()
}
