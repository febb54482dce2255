package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/docask/pkg/infra/tracing"
)

// Tracing returns a middleware that starts a server span per request,
// continuing any W3C trace context carried by the request headers.
// Requests to skipPaths are not traced.
func Tracing(skipPaths ...string) gin.HandlerFunc {
	skip := pathMatcher(skipPaths, nil)

	return func(c *gin.Context) {
		req := c.Request
		if skip(req.URL.Path) {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, req.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(req.Method),
				semconv.HTTPRoute(route),
				semconv.HTTPTarget(req.URL.Path),
				semconv.ServerAddress(req.Host),
			),
		)
		if id := GetRequestID(ctx); id != "" {
			tracing.AddSpanAttributes(ctx, attribute.String(tracing.AttrRequestID, id))
		}
		c.Request = req.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		var err error
		if status >= http.StatusInternalServerError {
			err = fmt.Errorf("HTTP %d: %s", status, http.StatusText(status))
		}
		tracing.EndSpan(span, err)
	}
}
