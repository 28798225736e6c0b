package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/response"
)

// RequireRole ensures that the authenticated user has one of the roles.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role, exists := c.Get(ctxRole)
		if !exists {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		if s, _ := role.(string); !allowed[domain.Role(s)] {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}

// StaffOnly lets studio staff and admins through.
func StaffOnly() gin.HandlerFunc {
	return RequireRole(domain.RoleStaff, domain.RoleAdmin)
}
