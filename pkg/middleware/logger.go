package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docask/pkg/infra/tracing"
)

// LoggerConfig configures the request logger.
type LoggerConfig struct {
	// SkipPaths are paths that are not logged, for example health probes.
	SkipPaths []string
	// SlowThreshold marks requests slower than this as slow (logged at warn).
	// Zero disables the distinction.
	SlowThreshold time.Duration
}

// Logger returns a middleware that logs each HTTP request with structured
// fields. Server errors are logged at error level.
func Logger(config LoggerConfig) gin.HandlerFunc {
	skip := pathMatcher(config.SkipPaths, nil)

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip(path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"remote_addr", c.ClientIP(),
			"latency", latency.String(),
			"latency_ms", latency.Milliseconds(),
			"bytes", c.Writer.Size(),
		}
		if id := GetRequestID(c.Request.Context()); id != "" {
			fields = append(fields, "request_id", id)
		}
		if traceID := tracing.TraceIDFromContext(c.Request.Context()); traceID != "" {
			fields = append(fields, "trace_id", traceID)
		}

		switch {
		case status >= 500:
			logger.Errorw("HTTP Request", fields...)
		case config.SlowThreshold > 0 && latency > config.SlowThreshold:
			logger.Warnw("HTTP Request (slow)", fields...)
		default:
			logger.Infow("HTTP Request", fields...)
		}
	}
}
