package orchestrator

import (
	"context"
	"sync"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TurnLocker serialises turns of one session across API instances.
// Acquire returns ok=false when another turn holds the lock.
type TurnLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), ok bool, err error)
}

// RedisTurnLocker is a per-session mutex shared by all API instances. Each
// holder owns a random token; release is a no-op once the ttl handed the
// lock to someone else.
type RedisTurnLocker struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisTurnLocker(rdb redis.Cmdable, ttl time.Duration) *RedisTurnLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTurnLocker{rdb: rdb, ttl: ttl}
}

func turnLockKey(sessionID string) string { return "turnlock:" + sessionID }

func (l *RedisTurnLocker) Acquire(ctx context.Context, sessionID string) (func(), bool, error) {
	key := turnLockKey(sessionID)
	token := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, key, token, l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		// The request context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = utils.ReleaseLock(rctx, l.rdb, key, token)
	}, true, nil
}

// LocalTurnLocker is an in-process TurnLocker for tests and single-node dev.
type LocalTurnLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalTurnLocker() *LocalTurnLocker {
	return &LocalTurnLocker{held: map[string]bool{}}
}

func (l *LocalTurnLocker) Acquire(ctx context.Context, sessionID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] {
		return func() {}, false, nil
	}
	l.held[sessionID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, sessionID)
		l.mu.Unlock()
	}, true, nil
}
