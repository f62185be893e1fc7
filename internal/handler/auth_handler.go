package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/service"
	"go.uber.org/zap"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Register handles user registration
// @Summary Register a new user and client
// @Description Creates an active user and a pending client; the client secret is returned once
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RegisterRequest true "Registration request"
// @Success 201 {object} dto.RegisterResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Registration successful. The client is pending approval")
	c.JSON(http.StatusCreated, response)
}

// Login handles user and client login
// @Summary Login
// @Description Authenticate with email and password or with clientId and clientSecret
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login request"
// @Success 200 {object} dto.LoginResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if response.RequireTwoFactor {
		response.Succeed("Two-factor authentication required")
	} else {
		response.Succeed("Login successful")
	}
	c.JSON(http.StatusOK, response)
}

// Refresh handles token refresh
// @Summary Refresh tokens
// @Description Exchanges a refresh token for a new token pair; the presented token is revoked
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RefreshRequest true "Refresh request"
// @Success 200 {object} dto.RefreshResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Token refreshed")
	c.JSON(http.StatusOK, response)
}

// Logout handles logout
// @Summary Logout
// @Description Revokes the presented bearer token and, when given, the caller's refresh token
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.LogoutRequest false "Logout request"
// @Success 200 {object} dto.MessageResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	var req dto.LogoutRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, h.logger, &req) {
		return
	}

	if err := h.authService.Logout(c.Request.Context(), principal, c.GetString(bearerKey), req.RefreshToken); err != nil {
		respondError(c, h.logger, err)
		return
	}

	var response dto.MessageResponse
	response.Succeed("Logged out successfully")
	c.JSON(http.StatusOK, response)
}

// ChangePassword handles password changes
// @Summary Change password
// @Description Verifies the current password, stores the new one and revokes issued tokens
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.ChangePasswordRequest true "Change password request"
// @Success 200 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	var req dto.ChangePasswordRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), principal.UserID, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	var response dto.MessageResponse
	response.Succeed("Password changed successfully")
	c.JSON(http.StatusOK, response)
}

// ChangeSecret handles client secret rotation
// @Summary Rotate client secret
// @Description Verifies the current secret of a client owned by the caller and issues a new one
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.ChangeSecretRequest true "Change secret request"
// @Success 200 {object} dto.ChangeSecretResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/change-secret [post]
func (h *AuthHandler) ChangeSecret(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	var req dto.ChangeSecretRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.ChangeSecret(c.Request.Context(), principal.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Client secret changed successfully")
	c.JSON(http.StatusOK, response)
}

// GenerateToken handles API token issuance
// @Summary Generate API token
// @Description Exchanges client credentials for a long-lived API token, counted against the client's quota
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.GenerateTokenRequest true "Generate token request"
// @Success 200 {object} dto.GenerateTokenResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/generate-token [post]
func (h *AuthHandler) GenerateToken(c *gin.Context) {
	var req dto.GenerateTokenRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.GenerateToken(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("API token generated")
	c.JSON(http.StatusOK, response)
}

// GetMe handles getting current user profile
// @Summary Get current user profile
// @Description Get the authenticated user together with their clients
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.MeResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	response, err := h.authService.GetMe(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("OK")
	c.JSON(http.StatusOK, response)
}
