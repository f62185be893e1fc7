package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/dto"
	"go.uber.org/zap"
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Internal causes are logged, never returned.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	appErr := apperr.As(err)
	status := statusFor(appErr.Kind)

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(status, dto.NewErrorResponse(appErr.Code, appErr.Message))
}

// bindJSON decodes the body into req, answering 400 on failure
func bindJSON(c *gin.Context, logger *zap.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, logger, apperr.Validation(bindingMessage(err)))
		return false
	}
	return true
}

// bindingMessage turns validator errors into a client-safe message
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "max":
			return fe.Field() + " is too long"
		default:
			return fe.Field() + " is invalid"
		}
	}
	return "Invalid request body"
}
