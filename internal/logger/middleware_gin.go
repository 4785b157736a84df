package logger

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
)

// GinMiddleware assigns a request id and writes one access log line per
// request. Cookie and Authorization headers are masked.
func GinMiddleware(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if v := c.GetHeader("Cookie"); v != "" {
			fields = append(fields, zap.String("cookie", MaskCookie(v)))
		}
		if v := c.GetHeader("Authorization"); v != "" {
			fields = append(fields, zap.String("authorization", MaskAuthorization(v)))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// RequestID returns the id assigned by GinMiddleware, if any.
func RequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// FromGin returns log annotated with the request id.
func FromGin(c *gin.Context, log *zap.Logger) *zap.Logger {
	if id := RequestID(c); id != "" {
		return log.With(zap.String("request_id", id))
	}
	return log
}
