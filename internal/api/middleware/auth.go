package middleware

import (
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

const APIKeyHeader = "X-API-Key"

// AuthMiddleware admits only requests carrying the shared API key.
func AuthMiddleware(cfg *config.APIConfig, m *metrics.Metrics) gin.HandlerFunc {
	expected := []byte(cfg.APIKey)

	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), expected) == 1 {
			c.Next()
			return
		}

		m.RejectAdmission("unauthorized")
		utils.LogWarn(c.Request.Context(), "Rejected request without a valid API key", utils.Fields{
			"ip":         c.ClientIP(),
			"path":       c.Request.URL.Path,
			"key_absent": apiKey == "",
		})
		abortWithError(c, utils.NewUnauthorizedError())
	}
}

func abortWithError(c *gin.Context, appErr *utils.AppError) {
	c.AbortWithStatusJSON(appErr.StatusCode, gin.H{
		"error":      appErr,
		"request_id": c.GetString("request_id"),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}
