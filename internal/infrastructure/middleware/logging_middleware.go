package middleware

import (
	"fmt"
	"time"

	"meshcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// RequestLoggerMiddleware logs one line per request. Mount it after
// TracingMiddleware so the trace id is available.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		if userID, ok := c.Get(ContextUserID); ok {
			ctx = logger.WithUserID(ctx, fmt.Sprint(userID))
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if len(c.Errors) > 0 && c.Writer.Status() >= 500 {
			cl.LogError(ctx, c.Errors.Last().Err, "request failed")
		}
		cl.LogRequest(ctx, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
