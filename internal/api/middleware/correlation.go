package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/utils"
)

func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = utils.GenerateCorrelationID()
		}
		requestID := utils.GenerateRequestID()

		c.Set("correlation_id", correlationID)
		c.Set("request_id", requestID)
		c.Header("X-Correlation-ID", correlationID)
		c.Header("X-Request-ID", requestID)

		ctx := utils.WithRequestID(utils.WithCorrelationID(c.Request.Context(), correlationID), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		utils.LogDebug(ctx, "Incoming request", utils.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"ip":     c.ClientIP(),
		})

		c.Next()

		// Streamed downloads report their size here too; -1 means no body.
		utils.LogInfo(ctx, "Request completed", utils.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"bytes":      c.Writer.Size(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}
