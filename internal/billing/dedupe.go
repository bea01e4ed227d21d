package billing

import (
	"context"
	"sync"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL covers the provider's retry horizon.
const DefaultDedupeTTL = 72 * time.Hour

// Deduper records which webhook deliveries were already processed.
// Claim returns false for a key seen within the TTL.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisDeduper struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return utils.ClaimOnce(ctx, d.rdb, d.prefix+key, d.ttl)
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return utils.Forget(ctx, d.rdb, d.prefix+key)
}

// MemoryDeduper is an in-process Deduper for tests and local runs.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]struct{}{}}
}

func (d *MemoryDeduper) Claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
