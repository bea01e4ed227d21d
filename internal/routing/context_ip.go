package routing

import (
	"context"

	"github.com/gin-gonic/gin"
)

type clientIPKey struct{}

// WithClientIP attaches the caller's address so services below the HTTP
// layer (billing, audit) can record it without seeing the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns "" when no address was attached.
func ClientIPFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(clientIPKey{}).(string); ok {
		return s
	}
	return ""
}

// ClientIP is gin middleware that stores c.ClientIP() on the request context.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
