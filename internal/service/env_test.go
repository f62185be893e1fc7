package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret = "test-secret-key-that-is-at-least-32-characters-long"
	testPassword  = "longenough1"
)

type testEnv struct {
	clock     *fakeClock
	users     *fakeUserRepo
	clients   *fakeClientRepo
	tokenRepo *fakeTokenRepo
	blacklist *fakeBlacklist
	notifier  *fakeNotifier

	tokens    TokenService
	twoFactor TwoFactorService
	auth      AuthService
	admin     ClientAdminService
}

type testEnvOptions struct {
	requireCodeToDisable bool
	usageQuota           int
}

func newTestEnv(t *testing.T, opts ...func(*testEnvOptions)) *testEnv {
	t.Helper()

	o := testEnvOptions{usageQuota: 100}
	for _, opt := range opts {
		opt(&o)
	}

	clock := newFakeClock()
	logger := zap.NewNop()
	clients := newFakeClientRepo()
	users := newFakeUserRepo(clients)
	tokenRepo := newFakeTokenRepo()
	blacklist := newFakeBlacklist()
	notifier := &fakeNotifier{}

	jwtManager := utils.NewJWTManager(testJWTSecret, "test-issuer", 15*time.Minute, 7*24*time.Hour).
		WithClock(clock.Now)

	tokens := NewTokenService(users, tokenRepo, jwtManager, blacklist, nil, logger, TokenServiceConfig{
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		APITokenExpiry:     30 * 24 * time.Hour,
	})
	tokens.(*tokenService).now = clock.Now

	twoFactor := NewTwoFactorService(users, nil, logger, TwoFactorConfig{
		Issuer:               "Test",
		Skew:                 1,
		BackupCodeCount:      10,
		RequireCodeToDisable: o.requireCodeToDisable,
	})
	twoFactor.(*twoFactorService).now = clock.Now

	auth := NewAuthService(users, clients, tokens, twoFactor, notifier, nil, logger, AuthConfig{
		BCryptCost:       bcrypt.MinCost,
		UsageQuota:       o.usageQuota,
		UsageQuotaPeriod: 30 * 24 * time.Hour,
	})
	auth.(*authService).now = clock.Now

	admin := NewClientAdminService(users, clients, tokens, notifier, logger)
	admin.(*clientAdminService).now = clock.Now

	return &testEnv{
		clock:     clock,
		users:     users,
		clients:   clients,
		tokenRepo: tokenRepo,
		blacklist: blacklist,
		notifier:  notifier,
		tokens:    tokens,
		twoFactor: twoFactor,
		auth:      auth,
		admin:     admin,
	}
}

func (e *testEnv) register(t *testing.T, email string) *dto.RegisterResponse {
	t.Helper()
	resp, err := e.auth.Register(context.Background(), &dto.RegisterRequest{
		ClientName:      "Budget App",
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) approve(t *testing.T, clientRowID string) {
	t.Helper()
	_, err := e.admin.ApproveClient(context.Background(), "admin-1", clientRowID)
	require.NoError(t, err)
}

// enableTwoFactor runs generate then enable and returns the secret and backup codes
func (e *testEnv) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	generated, err := e.twoFactor.Generate(ctx, userID)
	require.NoError(t, err)

	enabled, err := e.twoFactor.Enable(ctx, userID, &dto.EnableTwoFactorRequest{
		Secret: generated.Secret,
		Token:  e.totpCode(t, generated.Secret),
	})
	require.NoError(t, err)
	return generated.Secret, enabled.BackupCodes
}

func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, e.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func (e *testEnv) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u := e.users.raw(id)
	require.NotNil(t, u)
	return u
}
