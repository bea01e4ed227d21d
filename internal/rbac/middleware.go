package rbac

import (
	"net/http"

	"voice-agent-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireTenant enforces tenant isolation: every tenant API call must carry a
// tenant_id claim, and handlers read the tenant only from context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid, err := auth.TenantID(c.Request.Context())
		if err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses the check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// TenantMember is the standard chain for tenant-scoped endpoints.
func TenantMember() []gin.HandlerFunc {
	return []gin.HandlerFunc{RequireTenant(), RequireAnyRole(RoleOwner, RoleMember)}
}
