package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware continues the caller's W3C trace (browser or CLI) and
// wraps the handler chain in a server span. The trace id is echoed in
// X-Trace-Id so a failed scan can be matched with the remote calls it made.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "domainscan"
	}
	tracer := otel.Tracer(serviceName + "/gateway")

	return func(c *gin.Context) {
		req := c.Request
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, spanName(req.Method, c.FullPath(), req.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.target", req.URL.Path),
				attribute.String("request.id", RequestID(req.Context())),
			),
		)
		defer span.End()
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header("X-Trace-Id", sc.TraceID().String())
		}
		c.Request = req.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if route := c.FullPath(); route != "" {
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// spanName prefers the route template so /v1/reports/:id does not explode
// into one span name per report.
func spanName(method, route, path string) string {
	if route == "" {
		route = path
	}
	return method + " " + route
}
