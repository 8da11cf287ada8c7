package middleware

import (
	"time"

	"peerboard/pkg/logger"
	"peerboard/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// TracingMiddleware wraps each request in a span and logs it with the
// request, room and trace ids.
func TracingMiddleware(roomID string, log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		ctx = logger.WithRequestID(logger.WithRoomID(ctx, roomID), requestID)
		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.String("http.remote_addr", c.ClientIP()),
			tracing.RoomIDKey.String(roomID),
		)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
			if last := c.Errors.Last(); last != nil {
				log.LogError(ctx, last.Err, "request failed",
					zap.String("method", c.Request.Method),
					zap.String("path", route),
					zap.Int("status_code", status),
				)
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}

		log.LogRequest(ctx, c.Request.Method, route, status, duration.Milliseconds())
	}
}
