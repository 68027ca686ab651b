// Package size caps request bodies for upload routes.
package size

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/core"
)

// BodySizeLimiter rejects requests that declare a body over limit and wraps
// the rest so reads past limit fail with *http.MaxBytesError. A non-positive
// limit disables the check.
func BodySizeLimiter(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			problem := core.NewProblem(
				http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", limit),
			)
			c.Header("Content-Type", core.ProblemContentType)
			c.AbortWithStatusJSON(problem.Status, problem)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
