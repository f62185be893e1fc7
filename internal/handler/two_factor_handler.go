package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/service"
	"go.uber.org/zap"
)

// TwoFactorHandler handles TOTP enrolment and the second login step
type TwoFactorHandler struct {
	twoFactor   service.TwoFactorService
	authService service.AuthService
	logger      *zap.Logger
}

// NewTwoFactorHandler creates a new two-factor handler
func NewTwoFactorHandler(twoFactor service.TwoFactorService, authService service.AuthService, logger *zap.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactor:   twoFactor,
		authService: authService,
		logger:      logger,
	}
}

// Generate handles secret generation
// @Summary Generate a TOTP secret
// @Description Returns a candidate secret and QR code; nothing is stored until enable-2fa
// @Tags two-factor
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.GenerateTwoFactorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /auth/generate-2fa [post]
func (h *TwoFactorHandler) Generate(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	response, err := h.twoFactor.Generate(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Scan the QR code and confirm with a code to enable two-factor authentication")
	c.JSON(http.StatusOK, response)
}

// Enable handles 2FA activation
// @Summary Enable two-factor authentication
// @Tags two-factor
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.EnableTwoFactorRequest true "Enable request"
// @Success 200 {object} dto.EnableTwoFactorResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /auth/enable-2fa [post]
func (h *TwoFactorHandler) Enable(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	var req dto.EnableTwoFactorRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.twoFactor.Enable(c.Request.Context(), principal.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Two-factor authentication enabled. Store the backup codes safely")
	c.JSON(http.StatusOK, response)
}

// Disable handles 2FA deactivation
// @Summary Disable two-factor authentication
// @Tags two-factor
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.DisableTwoFactorRequest false "Disable request"
// @Success 200 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/disable-2fa [post]
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	var req dto.DisableTwoFactorRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, h.logger, &req) {
		return
	}

	if err := h.twoFactor.Disable(c.Request.Context(), principal.UserID, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	var response dto.MessageResponse
	response.Succeed("Two-factor authentication disabled")
	c.JSON(http.StatusOK, response)
}

// Verify handles the second login step
// @Summary Verify a two-factor code and issue tokens
// @Tags two-factor
// @Accept json
// @Produce json
// @Param request body dto.VerifyTwoFactorRequest true "Verify request"
// @Success 200 {object} dto.LoginResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /auth/verify-2fa [post]
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var req dto.VerifyTwoFactorRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	response, err := h.authService.VerifyTwoFactor(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Login successful")
	c.JSON(http.StatusOK, response)
}
