package monitoring

import (
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records admin API requests. Scrapes of the skipped paths
// are not counted.
func Middleware(metrics *Metrics, skip ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Route template keeps pipe names out of label cardinality
		path := c.FullPath()
		if slices.Contains(skip, path) {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}
