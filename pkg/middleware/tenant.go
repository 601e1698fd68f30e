package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/tenant"
	"github.com/fluxpay/engine/pkg/logger"
)

const headerTenantID = "X-Tenant-Id"

// Tenant binds the X-Tenant-Id header onto the request context before any
// handler runs. Handlers and services rely on tenant.FromContext and must
// never be reached without it when enabled.
func Tenant(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		tenantID := c.GetHeader(headerTenantID)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"isSuccess": false,
				"code":      string(apperr.CodeTenantMissing),
				"message":   "X-Tenant-Id header is required",
				"result":    nil,
			})
			return
		}

		ctx := tenant.WithTenant(c.Request.Context(), tenant.ID(tenantID))
		ctx = logger.WithTenantID(ctx, tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
