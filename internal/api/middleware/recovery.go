package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/utils"
)

// RecoveryMiddleware turns panics into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http closes the connection, and so is any panic after
// the response was committed.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			utils.LogError(c.Request.Context(), "Recovered from panic", fmt.Errorf("%v", rec), utils.Fields{
				"path":  c.Request.URL.Path,
				"stack": string(debug.Stack()),
			})

			if c.Writer.Written() {
				panic(http.ErrAbortHandler)
			}
			abortWithError(c, utils.NewInternalError())
		}()

		c.Next()
	}
}
