package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds client options. Zero durations and sizes take defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = c.ReadTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// OpenRedis builds a client and fails fast when PING does not answer.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// lockReleaseScript deletes the lock only while it still carries the
// caller's token, so an expired holder cannot free a successor's lock.
var lockReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var fixedWindowScript = redis.NewScript(`
-- KEYS[1] window key, ARGV[1] window_ms. Returns the hit count so far.
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// AcquireLock sets key to token for ttl unless another holder has it.
// The ttl frees locks leaked by crashed workers.
func AcquireLock(ctx context.Context, rdb redis.Cmdable, key, token string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, errors.New("redis client is nil")
	}
	if key == "" || token == "" {
		return false, errors.New("key and token are required")
	}
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLock frees key if it is still held under token. It reports whether
// anything was deleted.
func ReleaseLock(ctx context.Context, rdb redis.Scripter, key, token string) (bool, error) {
	if rdb == nil {
		return false, errors.New("redis client is nil")
	}
	n, err := lockReleaseScript.Run(ctx, rdb, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AllowFixedWindow counts one hit against key and reports whether the count
// is still within limit for the current window.
func AllowFixedWindow(ctx context.Context, rdb redis.Scripter, key string, limit int, window time.Duration) (bool, error) {
	if rdb == nil {
		return false, errors.New("redis client is nil")
	}
	if key == "" || limit <= 0 || window <= 0 {
		return false, errors.New("key, limit and window are required")
	}
	n, err := fixedWindowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}

// ClaimOnce marks key as seen for ttl. It returns false when the key was
// already claimed, which callers treat as a duplicate delivery.
func ClaimOnce(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, errors.New("redis client is nil")
	}
	if key == "" {
		return false, errors.New("key is required")
	}
	return rdb.SetNX(ctx, key, time.Now().UTC().Unix(), ttl).Result()
}

// Forget removes a claim so a failed delivery can be retried by the sender.
func Forget(ctx context.Context, rdb redis.Cmdable, key string) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	return rdb.Del(ctx, key).Err()
}
