package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"notification-relay/internal/services"
	"notification-relay/pkg/logging"
)

const correlationIDKey = "correlation_id"

// CorrelationID returns the ID assigned by CorrelationIDMiddleware.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

// CorrelationIDMiddleware reuses the caller's X-Correlation-ID or creates one,
// echoes it on the response and puts it in the request context.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(services.CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(services.CorrelationIDHeader, id)
		c.Request = c.Request.WithContext(services.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogger logs every handled request with its correlation ID.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// skip healthy health checks
		if c.Request.URL.Path == "/health" && c.Writer.Status() < 400 {
			return
		}

		logging.Logger.Info().
			Str("correlation_id", CorrelationID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request.handled")
	}
}
