package acceptance

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/prperemyshlev/credential-service/internal/dto"
)

const testPassword = "Password123"

func (s *Suite) register(email string) dto.RegisterResponse {
	var resp dto.RegisterResponse
	status := s.do(http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{
		ClientName:      "Client of " + email,
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	}, "", &resp)
	s.Require().Equal(http.StatusCreated, status)
	return resp
}

func (s *Suite) login(email string) dto.LoginResponse {
	var resp dto.LoginResponse
	status := s.do(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Email: email, Password: testPassword}, "", &resp)
	s.Require().Equal(http.StatusOK, status)
	return resp
}

// adminToken registers a user, promotes it to admin directly in the database and logs it in
func (s *Suite) adminToken() string {
	reg := s.register("admin@example.com")
	_, err := s.Postgres.DB.ExecContext(context.Background(),
		`UPDATE users SET role = 'admin' WHERE id = $1`, reg.Data.User.ID)
	s.Require().NoError(err)
	return s.login("admin@example.com").AccessToken
}

func (s *Suite) approve(adminToken, clientRowID string) {
	var resp dto.ClientResponse
	status := s.do(http.MethodPost, "/api/v1/admin/clients/"+clientRowID+"/approve", nil, adminToken, &resp)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal("active", resp.Client.Status)
}

func (s *Suite) TestRegister_Success() {
	resp := s.register("test@example.com")

	s.True(resp.Success)
	s.Equal("test@example.com", resp.Data.User.Email)
	s.Equal("active", resp.Data.User.Status)
	s.Equal("pending", resp.Data.Client.Status)
	s.Contains(resp.Data.Client.ClientID, "cl_")
	s.NotEmpty(resp.Data.ClientSecret)
}

func (s *Suite) TestRegister_DuplicateEmail() {
	s.register("duplicate@example.com")

	var errResp dto.ErrorResponse
	status := s.do(http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{
		ClientName: "Other",
		Email:      "Duplicate@Example.com",
		Password:   testPassword,
	}, "", &errResp)

	s.Equal(http.StatusConflict, status)
	s.Equal("EMAIL_TAKEN", errResp.Error)
}

func (s *Suite) TestRegister_InvalidInput() {
	tests := []dto.RegisterRequest{
		{ClientName: "c", Email: "invalid-email", Password: testPassword},
		{ClientName: "c", Email: "short@example.com", Password: "short"},
		{ClientName: "c", Email: "mismatch@example.com", Password: testPassword, ConfirmPassword: "Password124"},
		{Email: "noname@example.com", Password: testPassword},
	}

	for _, req := range tests {
		var errResp dto.ErrorResponse
		status := s.do(http.MethodPost, "/api/v1/auth/register", req, "", &errResp)
		s.Equal(http.StatusBadRequest, status, req.Email)
		s.Equal("VALIDATION_ERROR", errResp.Error)
	}
}

func (s *Suite) TestLogin_EmailPassword() {
	s.register("login@example.com")

	resp := s.login("login@example.com")

	s.False(resp.RequireTwoFactor)
	s.NotEmpty(resp.AccessToken)
	s.NotEmpty(resp.RefreshToken)
	s.Equal("Bearer", resp.TokenType)
	s.Equal(900, resp.ExpiresIn)
	s.Require().NotNil(resp.User)
	s.Equal("login@example.com", resp.User.Email)
	s.Require().NotNil(resp.User.LastLoginAt)

	var errResp dto.ErrorResponse
	status := s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "login@example.com", Password: "WrongPassword1"}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("INVALID_CREDENTIALS", errResp.Error)

	status = s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "nobody@example.com", Password: testPassword}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("INVALID_CREDENTIALS", errResp.Error)
}

func (s *Suite) TestLogin_ClientCredentialsRequireApproval() {
	reg := s.register("client@example.com")
	creds := dto.LoginRequest{ClientID: reg.Data.Client.ClientID, ClientSecret: reg.Data.ClientSecret}

	var errResp dto.ErrorResponse
	status := s.do(http.MethodPost, "/api/v1/auth/login", creds, "", &errResp)
	s.Equal(http.StatusForbidden, status)
	s.Equal("PENDING_APPROVAL", errResp.Error)

	status = s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{ClientID: reg.Data.Client.ClientID, ClientSecret: "wrong"}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("INVALID_CREDENTIALS", errResp.Error)

	s.approve(s.adminToken(), reg.Data.Client.ID)

	var resp dto.LoginResponse
	status = s.do(http.MethodPost, "/api/v1/auth/login", creds, "", &resp)
	s.Require().Equal(http.StatusOK, status)
	s.NotEmpty(resp.AccessToken)
	s.Require().NotNil(resp.Client)
	s.Equal(reg.Data.Client.ClientID, resp.Client.ClientID)
}

func (s *Suite) TestRefresh_RotatesToken() {
	s.register("refresh@example.com")
	first := s.login("refresh@example.com")

	var refreshed dto.RefreshResponse
	status := s.do(http.MethodPost, "/api/v1/auth/refresh", dto.RefreshRequest{RefreshToken: first.RefreshToken}, "", &refreshed)
	s.Require().Equal(http.StatusOK, status)
	s.NotEmpty(refreshed.AccessToken)
	s.NotEqual(first.RefreshToken, refreshed.RefreshToken)

	var errResp dto.ErrorResponse
	status = s.do(http.MethodPost, "/api/v1/auth/refresh", dto.RefreshRequest{RefreshToken: first.RefreshToken}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("TOKEN_REVOKED", errResp.Error)

	status = s.do(http.MethodPost, "/api/v1/auth/refresh", dto.RefreshRequest{RefreshToken: first.AccessToken}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("INVALID_TOKEN", errResp.Error)
}

func (s *Suite) TestRefresh_ConcurrentReplayIssuesOnePair() {
	s.register("replay@example.com")
	session := s.login("replay@example.com")

	raw, err := json.Marshal(dto.RefreshRequest{RefreshToken: session.RefreshToken})
	s.Require().NoError(err)

	const attempts = 8
	statuses := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.client.Post(s.BaseURL+"/api/v1/auth/refresh", "application/json", bytes.NewReader(raw))
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, status := range statuses {
		if status == http.StatusOK {
			ok++
			continue
		}
		s.Equal(http.StatusUnauthorized, status)
	}
	s.Equal(1, ok)
}

func (s *Suite) TestLogout_RevokesTokens() {
	s.register("logout@example.com")
	session := s.login("logout@example.com")

	var me dto.MeResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/auth/me", nil, session.AccessToken, &me))
	s.Equal("logout@example.com", me.User.Email)
	s.Len(me.Clients, 1)

	status := s.do(http.MethodPost, "/api/v1/auth/logout",
		dto.LogoutRequest{RefreshToken: session.RefreshToken}, session.AccessToken, nil)
	s.Require().Equal(http.StatusOK, status)

	var errResp dto.ErrorResponse
	status = s.do(http.MethodGet, "/api/v1/auth/me", nil, session.AccessToken, &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("TOKEN_REVOKED", errResp.Error)

	status = s.do(http.MethodPost, "/api/v1/auth/refresh", dto.RefreshRequest{RefreshToken: session.RefreshToken}, "", &errResp)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("TOKEN_REVOKED", errResp.Error)
}

func (s *Suite) TestChangePassword_RevokesRefreshTokens() {
	s.register("change@example.com")
	session := s.login("change@example.com")

	status := s.do(http.MethodPost, "/api/v1/auth/change-password", dto.ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "NewPassword456",
		ConfirmPassword: "NewPassword456",
	}, session.AccessToken, nil)
	s.Require().Equal(http.StatusOK, status)

	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: session.RefreshToken}, "", nil))
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "change@example.com", Password: testPassword}, "", nil))
	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "change@example.com", Password: "NewPassword456"}, "", nil))
}

func (s *Suite) TestAPIToken_QuotaAndSecretRotation() {
	reg := s.register("api@example.com")
	s.approve(s.adminToken(), reg.Data.Client.ID)
	creds := dto.GenerateTokenRequest{ClientID: reg.Data.Client.ClientID, ClientSecret: reg.Data.ClientSecret}

	var issued dto.GenerateTokenResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", &issued))
	s.Contains(issued.Token, "sk_")
	s.Equal(1, issued.UsageCount)
	s.Equal(3, issued.UsageQuota)
	s.WithinDuration(time.Now().Add(30*24*time.Hour), issued.ExpiresAt, time.Minute)

	var me dto.MeResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/auth/me", nil, issued.Token, &me))
	s.Equal("api@example.com", me.User.Email)

	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", nil))
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", nil))

	var errResp dto.ErrorResponse
	s.Equal(http.StatusTooManyRequests, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", &errResp))
	s.Equal("QUOTA_EXCEEDED", errResp.Error)

	s.Equal(http.StatusTooManyRequests, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", nil))

	session := s.login("api@example.com")
	var usage dto.MeResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/auth/me", nil, session.AccessToken, &usage))
	s.Require().Len(usage.Clients, 1)
	s.Equal(3, usage.Clients[0].UsageCount)

	var rotated dto.ChangeSecretResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/change-secret", dto.ChangeSecretRequest{
		ClientID:      reg.Data.Client.ClientID,
		CurrentSecret: reg.Data.ClientSecret,
	}, session.AccessToken, &rotated))
	s.NotEqual(reg.Data.ClientSecret, rotated.ClientSecret)

	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/auth/me", nil, issued.Token, nil))
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/auth/generate-token", creds, "", nil))
}

func (s *Suite) TestTwoFactor_FullFlow() {
	s.register("totp@example.com")
	session := s.login("totp@example.com")

	var generated dto.GenerateTwoFactorResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/generate-2fa", nil, session.AccessToken, &generated))
	s.NotEmpty(generated.Secret)
	s.Contains(generated.QRCodeURL, "data:image/png;base64,")

	code, err := totp.GenerateCode(generated.Secret, time.Now())
	s.Require().NoError(err)

	var enabled dto.EnableTwoFactorResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/enable-2fa",
		dto.EnableTwoFactorRequest{Secret: generated.Secret, Token: code}, session.AccessToken, &enabled))
	s.Len(enabled.BackupCodes, 10)

	challenge := s.login("totp@example.com")
	s.True(challenge.RequireTwoFactor)
	s.Empty(challenge.AccessToken)
	s.NotEmpty(challenge.UserID)

	var errResp dto.ErrorResponse
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/auth/verify-2fa",
		dto.VerifyTwoFactorRequest{UserID: challenge.UserID, Token: "000000"}, "", &errResp))

	var verified dto.LoginResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/verify-2fa",
		dto.VerifyTwoFactorRequest{UserID: challenge.UserID, BackupCode: enabled.BackupCodes[0]}, "", &verified))
	s.NotEmpty(verified.AccessToken)
	s.NotEmpty(verified.RefreshToken)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/auth/verify-2fa",
		dto.VerifyTwoFactorRequest{UserID: challenge.UserID, BackupCode: enabled.BackupCodes[0]}, "", nil),
		"backup codes are single use")

	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/auth/disable-2fa", nil, verified.AccessToken, nil))
	s.False(s.login("totp@example.com").RequireTwoFactor)
}

func (s *Suite) TestAdmin_ClientLifecycle() {
	reg := s.register("owner@example.com")
	admin := s.adminToken()

	var list dto.ClientListResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodGet, "/api/v1/admin/clients?status=pending", nil, admin, &list))
	s.Len(list.Clients, 2, "owner and admin clients are both pending")
	clientIDs := []string{list.Clients[0].ClientID, list.Clients[1].ClientID}
	s.Contains(clientIDs, reg.Data.Client.ClientID)

	userSession := s.login("owner@example.com")
	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/api/v1/admin/clients", nil, userSession.AccessToken, nil))

	var errResp dto.ErrorResponse
	s.Equal(http.StatusConflict, s.do(http.MethodPost,
		"/api/v1/admin/clients/"+reg.Data.Client.ID+"/suspend", nil, admin, &errResp))
	s.Equal("INVALID_TRANSITION", errResp.Error)

	s.approve(admin, reg.Data.Client.ID)

	var suspended dto.ClientResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost,
		"/api/v1/admin/clients/"+reg.Data.Client.ID+"/suspend", nil, admin, &suspended))
	s.Equal("suspended", suspended.Client.Status)

	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{
		ClientID:     reg.Data.Client.ClientID,
		ClientSecret: reg.Data.ClientSecret,
	}, "", &errResp))
	s.Equal("CLIENT_SUSPENDED", errResp.Error)

	s.Require().Equal(http.StatusOK, s.do(http.MethodPost,
		"/api/v1/admin/clients/"+reg.Data.Client.ID+"/revoke", nil, admin, nil))
	s.Equal(http.StatusConflict, s.do(http.MethodPost,
		"/api/v1/admin/clients/"+reg.Data.Client.ID+"/approve", nil, admin, nil))

	s.Equal(http.StatusNotFound, s.do(http.MethodPost,
		"/api/v1/admin/clients/00000000-0000-0000-0000-000000000000/approve", nil, admin, nil))
}

func (s *Suite) TestAdmin_DeleteUserAndCleanup() {
	reg := s.register("gone@example.com")
	session := s.login("gone@example.com")
	admin := s.adminToken()

	s.Require().Equal(http.StatusOK, s.do(http.MethodDelete, "/api/v1/admin/users/"+reg.Data.User.ID, nil, admin, nil))

	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/auth/refresh",
		dto.RefreshRequest{RefreshToken: session.RefreshToken}, "", nil))
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/auth/login",
		dto.LoginRequest{Email: "gone@example.com", Password: testPassword}, "", nil))

	var cleanup dto.CleanupResponse
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/admin/tokens/cleanup", nil, admin, &cleanup))
	s.GreaterOrEqual(cleanup.Deleted, int64(1))
}

func (s *Suite) TestHealthAndMetrics() {
	var health dto.HealthResponse
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health", nil, "", &health))
	s.Equal(map[string]string{"postgres": "ok", "redis": "ok"}, health.Checks)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/metrics", nil, "", nil))
}
