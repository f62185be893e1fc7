package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.uber.org/zap"
)

const (
	totpPeriod   = 30
	totpDigits   = otp.DigitsSix
	qrCodeSize   = 200
	qrDataPrefix = "data:image/png;base64,"
)

// TwoFactorConfig holds TOTP and backup code settings
type TwoFactorConfig struct {
	Issuer               string
	Skew                 uint
	BackupCodeCount      int
	RequireCodeToDisable bool
}

// twoFactorService implements TwoFactorService interface
type twoFactorService struct {
	userRepo repository.UserRepository
	metrics  *observability.AuthMetrics
	logger   *zap.Logger
	cfg      TwoFactorConfig
	now      func() time.Time
}

// NewTwoFactorService creates a new two-factor service
func NewTwoFactorService(
	userRepo repository.UserRepository,
	metrics *observability.AuthMetrics,
	logger *zap.Logger,
	cfg TwoFactorConfig,
) TwoFactorService {
	if metrics == nil {
		metrics = observability.NoopAuthMetrics()
	}
	return &twoFactorService{
		userRepo: userRepo,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Generate creates a candidate secret for the user. The secret is returned to the caller and
// must be sent back with a valid code to Enable; nothing is persisted here.
func (s *twoFactorService) Generate(ctx context.Context, userID string) (*dto.GenerateTwoFactorResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, apperr.ErrTwoFactorEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate totp secret: %w", err))
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &dto.GenerateTwoFactorResponse{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodeURL:  qr,
	}, nil
}

// Enable verifies a code against the candidate secret and, on success, stores the secret,
// the enabled flag and fresh backup codes in one update.
func (s *twoFactorService) Enable(ctx context.Context, userID string, req *dto.EnableTwoFactorRequest) (*dto.EnableTwoFactorResponse, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, apperr.ErrTwoFactorEnabled
	}

	secret := strings.ToUpper(strings.TrimSpace(req.Secret))
	if !s.validateTOTP(req.Token, secret) {
		s.metrics.TwoFactorVerification(ctx, "enable", false)
		return nil, apperr.ErrInvalidTwoFactor
	}
	s.metrics.TwoFactorVerification(ctx, "enable", true)

	codes, err := utils.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to generate backup codes: %w", err))
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = utils.HashToken(code)
	}

	if err := s.userRepo.EnableTwoFactor(ctx, user.ID, secret, hashes); err != nil {
		return nil, s.mapUserError(err)
	}

	s.logger.Info("Two-factor authentication enabled", zap.String("user_id", user.ID))
	return &dto.EnableTwoFactorResponse{BackupCodes: codes}, nil
}

// Disable turns 2FA off. A supplied code must verify; an omitted code is accepted unless the
// service is configured to require one.
func (s *twoFactorService) Disable(ctx context.Context, userID string, req *dto.DisableTwoFactorRequest) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return apperr.ErrTwoFactorDisabled
	}

	code := ""
	if req != nil {
		code = strings.TrimSpace(req.Token)
	}
	switch {
	case code != "":
		ok := s.validateTOTP(code, *user.TwoFactorSecret)
		s.metrics.TwoFactorVerification(ctx, "disable", ok)
		if !ok {
			return apperr.ErrInvalidTwoFactor
		}
	case s.cfg.RequireCodeToDisable:
		return apperr.ErrTwoFactorCodeNeeded
	}

	if err := s.userRepo.DisableTwoFactor(ctx, user.ID); err != nil {
		return s.mapUserError(err)
	}

	s.logger.Info("Two-factor authentication disabled",
		zap.String("user_id", user.ID),
		zap.Bool("code_supplied", code != ""),
	)
	return nil
}

// VerifyLogin checks a TOTP code, or consumes a backup code exactly once.
func (s *twoFactorService) VerifyLogin(ctx context.Context, user *domain.User, code, backupCode string) error {
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return apperr.ErrTwoFactorDisabled
	}

	code = strings.TrimSpace(code)
	switch {
	case code != "":
		ok := s.validateTOTP(code, *user.TwoFactorSecret)
		s.metrics.TwoFactorVerification(ctx, "totp", ok)
		if !ok {
			return apperr.ErrInvalidTwoFactor
		}
		return nil

	case strings.TrimSpace(backupCode) != "":
		hash := utils.HashToken(utils.NormalizeBackupCode(backupCode))
		consumed, err := s.userRepo.ConsumeBackupCode(ctx, user.ID, hash)
		if err != nil {
			return apperr.Internal(fmt.Errorf("failed to consume backup code: %w", err))
		}
		s.metrics.TwoFactorVerification(ctx, "backup_code", consumed)
		if !consumed {
			return apperr.ErrInvalidTwoFactor
		}
		s.logger.Info("Backup code used", zap.String("user_id", user.ID))
		return nil

	default:
		return apperr.Validation("token or backupCode is required")
	}
}

func (s *twoFactorService) validateTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.cfg.Skew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *twoFactorService) getUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, s.mapUserError(err)
	}
	return user, nil
}

func (s *twoFactorService) mapUserError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.ErrUserNotFound, err)
	}
	return apperr.Internal(err)
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}

	return qrDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
