package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"github.com/prperemyshlev/credential-service/internal/service"
	"go.uber.org/zap"
)

// AdminHandler exposes client moderation and maintenance to admins
type AdminHandler struct {
	admin  service.ClientAdminService
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin service.ClientAdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// ListClients godoc
// @Summary List clients
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param status query string false "pending, active, suspended or revoked"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} dto.ClientListResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /admin/clients [get]
func (h *AdminHandler) ListClients(c *gin.Context) {
	var query dto.ListClientsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, h.logger, apperr.Validation(bindingMessage(err)))
		return
	}

	response, err := h.admin.ListClients(c.Request.Context(), &query)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("OK")
	c.JSON(http.StatusOK, response)
}

// ApproveClient godoc
// @Summary Approve a pending or suspended client
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "client id"
// @Success 200 {object} dto.ClientResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /admin/clients/{id}/approve [post]
func (h *AdminHandler) ApproveClient(c *gin.Context) {
	h.transition(c, h.admin.ApproveClient, "Client approved")
}

// SuspendClient godoc
// @Summary Suspend an active client
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "client id"
// @Success 200 {object} dto.ClientResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /admin/clients/{id}/suspend [post]
func (h *AdminHandler) SuspendClient(c *gin.Context) {
	h.transition(c, h.admin.SuspendClient, "Client suspended")
}

// RevokeClient godoc
// @Summary Revoke a client and its tokens
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "client id"
// @Success 200 {object} dto.ClientResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /admin/clients/{id}/revoke [post]
func (h *AdminHandler) RevokeClient(c *gin.Context) {
	h.transition(c, h.admin.RevokeClient, "Client revoked")
}

// DeleteUser godoc
// @Summary Soft-delete a user and revoke their tokens
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "user id"
// @Success 200 {object} dto.MessageResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	if err := h.admin.DeleteUser(c.Request.Context(), principal.UserID, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	var response dto.MessageResponse
	response.Succeed("User deleted")
	c.JSON(http.StatusOK, response)
}

// CleanupTokens godoc
// @Summary Sweep expired and revoked tokens
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.CleanupResponse
// @Router /admin/tokens/cleanup [post]
func (h *AdminHandler) CleanupTokens(c *gin.Context) {
	response, err := h.admin.CleanupTokens(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed("Token cleanup completed")
	c.JSON(http.StatusOK, response)
}

type transitionFunc func(ctx context.Context, adminID, id string) (*dto.ClientResponse, error)

func (h *AdminHandler) transition(c *gin.Context, fn transitionFunc, message string) {
	principal, ok := GetPrincipal(c)
	if !ok {
		respondError(c, h.logger, errMissingBearer)
		return
	}

	response, err := fn(c.Request.Context(), principal.UserID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response.Succeed(message)
	c.JSON(http.StatusOK, response)
}
