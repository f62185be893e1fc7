package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAuthService answers with whatever the test configured; unset methods fail loudly.
type stubAuthService struct {
	register     func(*dto.RegisterRequest) (*dto.RegisterResponse, error)
	login        func(*dto.LoginRequest) (*dto.LoginResponse, error)
	verify       func(*dto.VerifyTwoFactorRequest) (*dto.LoginResponse, error)
	logout       func(principal *domain.Principal, bearer, refresh string) error
	authenticate func(bearer string) (*domain.Principal, error)
	getMe        func(userID string) (*dto.MeResponse, error)
}

var errNotStubbed = errors.New("not stubbed")

func (s *stubAuthService) Register(_ context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	if s.register == nil {
		return nil, errNotStubbed
	}
	return s.register(req)
}

func (s *stubAuthService) Login(_ context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	if s.login == nil {
		return nil, errNotStubbed
	}
	return s.login(req)
}

func (s *stubAuthService) VerifyTwoFactor(_ context.Context, req *dto.VerifyTwoFactorRequest) (*dto.LoginResponse, error) {
	if s.verify == nil {
		return nil, errNotStubbed
	}
	return s.verify(req)
}

func (s *stubAuthService) RefreshToken(context.Context, string) (*dto.RefreshResponse, error) {
	return nil, errNotStubbed
}

func (s *stubAuthService) Logout(_ context.Context, principal *domain.Principal, bearer, refresh string) error {
	if s.logout == nil {
		return errNotStubbed
	}
	return s.logout(principal, bearer, refresh)
}

func (s *stubAuthService) ChangePassword(context.Context, string, *dto.ChangePasswordRequest) error {
	return errNotStubbed
}

func (s *stubAuthService) ChangeSecret(context.Context, string, *dto.ChangeSecretRequest) (*dto.ChangeSecretResponse, error) {
	return nil, errNotStubbed
}

func (s *stubAuthService) GenerateToken(context.Context, *dto.GenerateTokenRequest) (*dto.GenerateTokenResponse, error) {
	return nil, errNotStubbed
}

func (s *stubAuthService) GetMe(_ context.Context, userID string) (*dto.MeResponse, error) {
	if s.getMe == nil {
		return nil, errNotStubbed
	}
	return s.getMe(userID)
}

func (s *stubAuthService) Authenticate(_ context.Context, bearer string) (*domain.Principal, error) {
	if s.authenticate == nil {
		return nil, errNotStubbed
	}
	return s.authenticate(bearer)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (service.RateLimitResult, error) {
	return service.RateLimitResult{}, errors.New("redis down")
}

func performJSON(t *testing.T, router http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func performFrom(router http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.ErrInvalidCredentials, http.StatusUnauthorized},
		{apperr.ErrTokenRevoked, http.StatusUnauthorized},
		{apperr.ErrPendingApproval, http.StatusForbidden},
		{apperr.ErrClientNotFound, http.StatusNotFound},
		{apperr.ErrEmailTaken, http.StatusConflict},
		{apperr.ErrQuotaExceeded, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(apperr.KindOf(tt.err)), "%v", tt.err)
	}
}

func TestRespondErrorHidesInternalCause(t *testing.T) {
	router := gin.New()
	router.GET("/fail", func(c *gin.Context) {
		respondError(c, zap.NewNop(), errors.New("pq: connection refused"))
	})

	w := performJSON(t, router, http.MethodGet, "/fail", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRegisterReturnsCreatedEnvelope(t *testing.T) {
	auth := &stubAuthService{
		register: func(req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
			return &dto.RegisterResponse{Data: dto.RegisterData{
				User:         dto.UserInfo{ID: "user-1", Email: req.Email},
				Client:       dto.ClientInfo{ClientID: "cl_abc", Name: req.ClientName, Status: "pending"},
				ClientSecret: "secret",
			}}, nil
		},
	}
	router := gin.New()
	router.POST("/register", NewAuthHandler(auth, zap.NewNop()).Register)

	w := performJSON(t, router, http.MethodPost, "/register", map[string]string{
		"clientName": "Acme",
		"email":      "a@b.com",
		"password":   "Password123",
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "cl_abc", resp.Data.Client.ClientID)
	assert.Equal(t, "secret", resp.Data.ClientSecret)
}

func TestRegisterBindingErrors(t *testing.T) {
	router := gin.New()
	router.POST("/register", NewAuthHandler(&stubAuthService{}, zap.NewNop()).Register)

	w := performJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email":    "a@b.com",
		"password": "Password123",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error)
	assert.Contains(t, resp.Message, "ClientName")
}

func TestLoginMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"wrong password", apperr.ErrInvalidCredentials, http.StatusUnauthorized},
		{"pending client", apperr.ErrPendingApproval, http.StatusForbidden},
		{"suspended client", apperr.ErrClientSuspended, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &stubAuthService{
				login: func(*dto.LoginRequest) (*dto.LoginResponse, error) { return nil, tt.err },
			}
			router := gin.New()
			router.POST("/login", NewAuthHandler(auth, zap.NewNop()).Login)

			w := performJSON(t, router, http.MethodPost, "/login", dto.LoginRequest{Email: "a@b.com", Password: "x"}, nil)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, apperr.As(tt.err).Code, decodeError(t, w).Error)
		})
	}
}

func TestLoginTwoFactorChallenge(t *testing.T) {
	auth := &stubAuthService{
		login: func(*dto.LoginRequest) (*dto.LoginResponse, error) {
			return &dto.LoginResponse{RequireTwoFactor: true, UserID: "user-1"}, nil
		},
	}
	router := gin.New()
	router.POST("/login", NewAuthHandler(auth, zap.NewNop()).Login)

	w := performJSON(t, router, http.MethodPost, "/login", dto.LoginRequest{Email: "a@b.com", Password: "x"}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["requireTwoFactor"])
	assert.Equal(t, "user-1", body["userId"])
	assert.NotContains(t, body, "accessToken")
}

func TestAuthMiddleware(t *testing.T) {
	principal := &domain.Principal{UserID: "user-1", Role: domain.RoleUser, TokenKind: domain.TokenKindAccess}
	auth := &stubAuthService{
		authenticate: func(token string) (*domain.Principal, error) {
			if token == "good" {
				return principal, nil
			}
			return nil, apperr.ErrTokenRevoked
		},
		getMe: func(userID string) (*dto.MeResponse, error) {
			return &dto.MeResponse{User: dto.UserInfo{ID: userID}}, nil
		},
	}
	router := gin.New()
	router.GET("/me", AuthMiddleware(auth, zap.NewNop()), NewAuthHandler(auth, zap.NewNop()).GetMe)

	w := performJSON(t, router, http.MethodGet, "/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, w).Error)

	w = performJSON(t, router, http.MethodGet, "/me", nil, http.Header{"Authorization": []string{"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performJSON(t, router, http.MethodGet, "/me", nil, bearer("stale"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", decodeError(t, w).Error)

	w = performJSON(t, router, http.MethodGet, "/me", nil, bearer("good"))
	require.Equal(t, http.StatusOK, w.Code)
	var me dto.MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "user-1", me.User.ID)
}

func TestLogoutPassesBearerAndRefreshToken(t *testing.T) {
	var gotBearer, gotRefresh string
	auth := &stubAuthService{
		authenticate: func(string) (*domain.Principal, error) {
			return &domain.Principal{UserID: "user-1", TokenKind: domain.TokenKindAccess}, nil
		},
		logout: func(_ *domain.Principal, bearer, refresh string) error {
			gotBearer, gotRefresh = bearer, refresh
			return nil
		},
	}
	router := gin.New()
	router.POST("/logout", AuthMiddleware(auth, zap.NewNop()), NewAuthHandler(auth, zap.NewNop()).Logout)

	w := performJSON(t, router, http.MethodPost, "/logout", dto.LogoutRequest{RefreshToken: "rt"}, bearer("access"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "access", gotBearer)
	assert.Equal(t, "rt", gotRefresh)

	w = performJSON(t, router, http.MethodPost, "/logout", nil, bearer("access"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gotRefresh)
}

func TestRequireRole(t *testing.T) {
	role := domain.RoleUser
	auth := &stubAuthService{
		authenticate: func(string) (*domain.Principal, error) {
			return &domain.Principal{UserID: "user-1", Role: role}, nil
		},
	}
	router := gin.New()
	router.GET("/admin",
		AuthMiddleware(auth, zap.NewNop()),
		RequireRole(domain.RoleAdmin, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusNoContent) },
	)

	w := performJSON(t, router, http.MethodGet, "/admin", nil, bearer("t"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Error)

	role = domain.RoleAdmin
	w = performJSON(t, router, http.MethodGet, "/admin", nil, bearer("t"))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	require.NoError(t, router.SetTrustedProxies(nil))
	router.POST("/login",
		RateLimitMiddleware(service.NewMemoryRateLimiter(), 2, time.Minute, IPBasedKey, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	for i := 0; i < 2; i++ {
		w := performFrom(router, "10.0.0.1:5000", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := performFrom(router, "10.0.0.1:5001", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Error)

	w = performFrom(router, "10.0.0.2:5000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddlewareIgnoresSpoofedForwardedFor(t *testing.T) {
	router := gin.New()
	require.NoError(t, router.SetTrustedProxies(nil))
	router.POST("/login",
		RateLimitMiddleware(service.NewMemoryRateLimiter(), 2, time.Minute, IPBasedKey, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		spoofed := http.Header{"X-Forwarded-For": []string{fmt.Sprintf("203.0.113.%d", i)}}
		codes = append(codes, performFrom(router, "10.0.0.1:5000", spoofed).Code)
	}

	assert.Equal(t, []int{
		http.StatusOK, http.StatusOK,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimitMiddlewareUsesForwardedForFromTrustedProxy(t *testing.T) {
	router := gin.New()
	require.NoError(t, router.SetTrustedProxies([]string{"10.1.0.0/16"}))
	router.POST("/login",
		RateLimitMiddleware(service.NewMemoryRateLimiter(), 1, time.Minute, IPBasedKey, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	forwarded := func(ip string) http.Header { return http.Header{"X-Forwarded-For": []string{ip}} }

	assert.Equal(t, http.StatusOK, performFrom(router, "10.1.0.5:443", forwarded("198.51.100.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, performFrom(router, "10.1.0.5:443", forwarded("198.51.100.1")).Code)
	assert.Equal(t, http.StatusOK, performFrom(router, "10.1.0.5:443", forwarded("198.51.100.2")).Code)
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	router := gin.New()
	router.POST("/login",
		RateLimitMiddleware(failingLimiter{}, 1, time.Minute, IPBasedKey, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	w := performJSON(t, router, http.MethodPost, "/login", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"http://localhost:3000"}, []string{"GET", "POST"}, []string{"Authorization"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := performJSON(t, router, http.MethodGet, "/health", nil, http.Header{"Origin": []string{"http://localhost:3000"}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = performJSON(t, router, http.MethodGet, "/health", nil, http.Header{"Origin": []string{"http://evil.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	w = performJSON(t, router, http.MethodOptions, "/health", nil, http.Header{"Origin": []string{"http://localhost:3000"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
}
