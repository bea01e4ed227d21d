package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags every request with a request_id (taken from X-Request-Id
// when the caller sent one) and writes one access line when it finishes.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0 || status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		// Auth and handlers may have enriched the context logger.
		From(c.Request.Context()).Log(c.Request.Context(), level, "request", attrs...)
	}
}

// FromGin returns the request logger, or slog.Default outside Middleware.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
