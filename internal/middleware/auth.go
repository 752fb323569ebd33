package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jobportal/identity/internal/auth"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/token"
	apperrors "github.com/jobportal/identity/pkg/errors"
	"github.com/jobportal/identity/pkg/response"
	"go.uber.org/zap"
)

// TokenVerifier verifies access tokens
type TokenVerifier interface {
	Authenticate(accessToken string) (*token.Claims, error)
}

// Auth verifies the bearer access token and stores its claims. A missing or
// invalid token leaves the request unauthenticated; RequireRoles decides.
func Auth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		claims, err := verifier.Authenticate(tokenString)
		RecordJWTValidation(token.FailureKind(err))
		if err != nil {
			logger.Debug("access token rejected",
				zap.String("reason", token.FailureKind(err)),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Set(auth.ClaimsKey, claims)
		c.Next()
	}
}

// RequireRoles denies the request before its handler runs unless the verified
// identity holds one of roles. With no roles any authenticated caller passes.
func RequireRoles(roles ...guard.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)

		decision := guard.Authorize(claims.Identity(), roles...)
		RecordAuthorization(decision)
		if decision.Allowed() {
			c.Next()
			return
		}

		switch decision.Reason {
		case guard.RoleMismatch:
			response.Abort(c, apperrors.ErrRoleMismatch)
		default:
			response.Abort(c, apperrors.ErrNotAuthenticated)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
