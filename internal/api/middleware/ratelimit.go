package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/services/ratelimit"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// RateLimitMiddleware counts requests per client address. Over the limit
// the request is rejected at once with Retry-After; it is never queued.
func RateLimitMiddleware(limiter *ratelimit.Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The API key is shared by every caller, so the address is the only
		// per-client key available.
		key := c.ClientIP()

		// Store errors are logged by the limiter and admit the request.
		decision, _ := limiter.Allow(c.Request.Context(), key)

		reset := decision.RetryAfter(time.Now())
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(int(reset/time.Second)))

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(reset/time.Second)))
			m.RejectAdmission("rate_limited")
			utils.LogWarn(c.Request.Context(), "Rate limit exceeded", utils.Fields{
				"ip":    key,
				"limit": decision.Limit,
			})
			abortWithError(c, utils.NewRateLimitError())
			return
		}

		c.Next()
	}
}
