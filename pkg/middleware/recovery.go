package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/pkg/logger"
)

// Recovery converts a panic in a downstream handler into a 500 response
// instead of crashing the process, logging the stack trace.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				logger.FromContext(ctx).Error().
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in handler")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"isSuccess": false,
					"code":      string(apperr.CodeInternal),
					"message":   "internal server error",
					"result":    nil,
				})
			}
		}()

		c.Next()
	}
}
