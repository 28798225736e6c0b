package middleware

import (
	"github.com/gin-gonic/gin"

	"kilnstudio/internal/domain"
)

const (
	ctxUserID    = "user_id"
	ctxTenantID  = "tenant_id"
	ctxRole      = "role"
	ctxRequestID = "request_id"
)

// Actor returns the tenant and acting user set by JWTAuth.
func Actor(c *gin.Context) (int64, domain.Actor) {
	return c.GetInt64(ctxTenantID), domain.Actor{
		UserID: c.GetInt64(ctxUserID),
		Role:   domain.Role(c.GetString(ctxRole)),
	}
}

func RequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
