package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/pkg/models"
)

const (
	ContextSubject = "subject"
	ContextRole    = "role"
)

// TokenValidator is satisfied by services.AuthService.
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

// RequireAdmin accepts only Bearer JWTs whose role claim is admin.
func RequireAdmin(validator TokenValidator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abortWithError(c, http.StatusUnauthorized, "INVALID_AUTHORIZATION_FORMAT",
				"Authorization header must be in format 'Bearer <token>'")
			return
		}

		claims, err := validator.ValidateToken(tokenParts[1])
		if err != nil {
			logger.WithError(err).WithField("client_ip", c.ClientIP()).Warn("Invalid JWT token")
			abortWithError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		if !claims.IsAdmin() {
			logger.WithFields(logrus.Fields{
				"subject": claims.Subject,
				"role":    claims.Role,
				"path":    c.FullPath(),
			}).Warn("Non-admin token rejected")
			abortWithError(c, http.StatusForbidden, "FORBIDDEN", "Admin role required")
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
