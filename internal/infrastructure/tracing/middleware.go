package tracing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrnoKey is the gin context key handlers set to the kernel error name of
// a failed request.
const ErrnoKey = "kernel.errno"

// HTTPMiddleware creates Gin middleware for HTTP tracing
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			"X-Trace-ID": c.GetHeader("X-Trace-ID"),
			"X-Span-ID":  c.GetHeader("X-Span-ID"),
		})

		ctx := c.Request.Context()
		if traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
		}
		if parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, parentID)
		}

		span, ctx := tracer.StartSpan(ctx, c.FullPath())
		span.SetTag("http.method", c.Request.Method)
		if name := c.Param("name"); name != "" {
			span.SetTag("kernel.object", name)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Trace-ID", string(span.TraceID))
		c.Header("X-Span-ID", span.SpanID.String())

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		if code, ok := c.Get(ErrnoKey); ok {
			span.SetTag("kernel.errno", fmt.Sprint(code))
		}
		tracer.End(span, err)
	}
}
