package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := t0
	l := NewMemoryLimiter(2, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		if ok, _ := l.Allow(ctx, "ip"); ok != want {
			t.Fatalf("hit %d: expected %v, got %v", i+1, want, ok)
		}
	}
	if ok, _ := l.Allow(ctx, "other-ip"); !ok {
		t.Fatalf("expected separate budget per key")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "ip"); !ok {
		t.Fatalf("expected new window to allow")
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenLimiter) Window() time.Duration { return time.Minute }

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	l := NewMemoryLimiter(10, time.Minute).WithClock(func() time.Time { return t0 })
	r.POST("/hook", RateLimit(l, "payments"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/open", RateLimit(brokenLimiter{}, "payments"), func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.7:4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 10; i++ {
		if w := hit("/hook"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := hit("/hook")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 11th request, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}
	if w := hit("/open"); w.Code != http.StatusOK {
		t.Fatalf("expected limiter errors to pass through, got %d", w.Code)
	}
}
