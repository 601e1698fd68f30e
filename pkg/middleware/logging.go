// Package middleware provides gin middleware shared by the HTTP command surface.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fluxpay/engine/pkg/logger"
)

const (
	headerTraceID       = "X-Trace-Id"
	headerCorrelationID = "X-Correlation-Id"
)

// Logging assigns a trace id (generating one if absent), binds it and any
// correlation id onto the request context, and logs each request's outcome.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(headerTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		correlationID := c.GetHeader(headerCorrelationID)

		ctx := logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(headerTraceID, traceID)

		logger.FromContext(ctx).Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request received")

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := logger.FromContext(ctx).Info()
		if len(c.Errors) > 0 {
			event = logger.FromContext(ctx).Error().Err(c.Errors.Last())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request handled")
	}
}
