package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestClientIPContext(t *testing.T) {
	if ip := ClientIPFromContext(context.Background()); ip != "" {
		t.Fatalf("expected empty ip, got %q", ip)
	}
	ctx := WithClientIP(context.Background(), "")
	if ip := ClientIPFromContext(ctx); ip != "" {
		t.Fatalf("expected empty ip to be skipped, got %q", ip)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ClientIP())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, ClientIPFromContext(c.Request.Context())) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "192.0.2.10" {
		t.Fatalf("expected remote ip, got %q", w.Body.String())
	}
}
