package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"voice-agent-platform/pkg/logger"
	"voice-agent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter counts one hit for key and reports whether it is within budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// RedisLimiter is a fixed-window counter shared by every API replica.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return utils.AllowFixedWindow(ctx, l.rdb, l.prefix+key, l.limit, l.window)
}

func (l *RedisLimiter) Window() time.Duration { return l.window }

// MemoryLimiter is a single-process fixed window for tests and local runs.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  func() time.Time
	counts map[string]windowCount
}

type windowCount struct {
	start time.Time
	n     int
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, clock: time.Now, counts: map[string]windowCount{}}
}

// WithClock replaces the time source. Intended for tests.
func (l *MemoryLimiter) WithClock(clock func() time.Time) *MemoryLimiter {
	l.clock = clock
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	wc := l.counts[key]
	if wc.start.IsZero() || now.Sub(wc.start) >= l.window {
		wc = windowCount{start: now}
	}
	wc.n++
	l.counts[key] = wc
	return wc.n <= l.limit, nil
}

func (l *MemoryLimiter) Window() time.Duration { return l.window }

// RateLimit rejects callers over budget with 429. The key is scope plus client IP.
// A limiter error lets the request through: the webhooks behind it are
// already authenticated and deduplicated.
func RateLimit(l Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			logger.FromGin(c).Warn("rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(l.Window().Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
