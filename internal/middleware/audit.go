package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/immigration-dms-api/internal/service"
)

// AuditContext attaches the caller's address and user agent to the request
// context so that audit records written by services carry them.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
