package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/apperr"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/service"
	"go.uber.org/zap"
)

const (
	principalKey = "principal"
	bearerKey    = "bearer_token"
)

var errMissingBearer = apperr.WithMessage(apperr.ErrInvalidToken, "Authorization header with a Bearer token is required")

// AuthMiddleware resolves the Bearer credential (access JWT or API token) into a principal
func AuthMiddleware(authService service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			respondError(c, logger, errMissingBearer)
			return
		}

		principal, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.Set(principalKey, principal)
		c.Set(bearerKey, token)
		c.Next()
	}
}

// RequireRole rejects callers without the given role. It must run after AuthMiddleware.
func RequireRole(role domain.Role, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			respondError(c, logger, errMissingBearer)
			return
		}
		if principal.Role != role {
			logger.Warn("Forbidden request",
				zap.String("user_id", principal.UserID),
				zap.String("path", c.FullPath()),
			)
			respondError(c, logger, apperr.ErrForbidden)
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated caller stored by AuthMiddleware
func GetPrincipal(c *gin.Context) (*domain.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*domain.Principal)
	return principal, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
