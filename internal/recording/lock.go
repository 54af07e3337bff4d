package recording

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a start lock can be held. It comfortably exceeds
// the provider client timeout, so a lock only expires under a crashed holder.
const lockTTL = 60 * time.Second

// RedisLock is a per-session mutual-exclusion token held for the duration
// of the provider start call, so near-simultaneous start requests for the
// same session cannot both reach the provider.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a redis-backed session lock.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, ttl: lockTTL}
}

// TryLock attempts to take the start lock for a session. Returns false when
// another start for the same session holds it.
func (l *RedisLock) TryLock(ctx context.Context, sessionID string) (bool, error) {
	return l.client.SetNX(ctx, lockKey(sessionID), "1", l.ttl).Result()
}

// Unlock releases the start lock. Best effort: an expired lock may already
// be held by another request, but only after lockTTL has elapsed, which the
// provider call cannot outlive.
func (l *RedisLock) Unlock(ctx context.Context, sessionID string) {
	l.client.Del(ctx, lockKey(sessionID))
}

func lockKey(sessionID string) string {
	return "recording:start:" + sessionID
}
