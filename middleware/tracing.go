package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware provides OpenTelemetry tracing for Gin.
func TracingMiddleware() gin.HandlerFunc {
	return otelgin.Middleware("manual-knowledge-pipeline")
}

// EnrichTrace adds request attributes to the active span.
func EnrichTrace() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())

		span.SetAttributes(
			attribute.String("http.request_id", GetRequestID(c)),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if docID := c.Param("id"); docID != "" {
			span.SetAttributes(attribute.String("document.id", docID))
		}

		c.Next()
	}
}
