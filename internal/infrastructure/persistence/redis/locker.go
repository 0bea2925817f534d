package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED USER LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements progression.UserLocker across processes with
// SET NX PX. The TTL bounds how long a crashed holder blocks the user.
type Locker struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewLocker creates a distributed locker. A zero ttl uses TTLDistributedLock.
func NewLocker(cache *Cache, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client:       cache.Client(),
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		logger:       logger,
	}
}

// Lock implements progression.UserLocker. It polls until the lock is free or
// ctx is done.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	key := LockKey(userID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, shared.WrapError("progression", "Lock", shared.ErrUnavailable,
				fmt.Sprintf("failed to lock user %s", userID), err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release user lock, it will expire",
			"key", key,
			"ttl", l.ttl,
			"error", err,
		)
	}
}
