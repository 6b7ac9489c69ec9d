package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// BodyLimitMiddleware rejects declared oversize bodies up front and caps
// the rest while they are read. Non-positive limits disable it.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			abortWithError(c, utils.NewPayloadTooLargeError(limit))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// BodyLimitExceeded reports whether err came from reading past the body
// limit, and the limit that was hit.
func BodyLimitExceeded(err error) (int64, bool) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return maxBytesErr.Limit, true
	}
	return 0, false
}
