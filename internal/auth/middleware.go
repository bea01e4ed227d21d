package auth

import (
	"net/http"
	"strings"

	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// RequireAccessToken admits requests carrying a valid access token and puts
// the caller's Identity on the request context. Roles are checked by rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, m.now())
		if err != nil {
			logger.FromGin(c).Warn("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.TenantID, claims.Role)
		ctx, _ = logger.WithFields(ctx, "tenant_id", claims.TenantID, "user_id", claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
