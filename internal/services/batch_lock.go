package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// BatchLock guarantees at most one clear-and-repopulate sequence runs at a time.
type BatchLock interface {
	// Acquire returns ErrBatchInProgress when another run holds the lock.
	Acquire(ctx context.Context) (release func(), err error)
}

const batchLockKey = "lock:batch_generation"

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DistributedBatchLock combines a process-local mutex with a Redis lease so that separate
// instances sharing one result store do not interleave runs. A nil client makes it process-local.
type DistributedBatchLock struct {
	local  sync.Mutex
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewDistributedBatchLock(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *DistributedBatchLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &DistributedBatchLock{redis: client, ttl: ttl, logger: logger}
}

func (l *DistributedBatchLock) Acquire(ctx context.Context) (func(), error) {
	if !l.local.TryLock() {
		return nil, ErrBatchInProgress
	}
	if l.redis == nil {
		return l.local.Unlock, nil
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, batchLockKey, token, l.ttl).Result()
	if err != nil {
		l.local.Unlock()
		return nil, fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	if !ok {
		l.local.Unlock()
		return nil, ErrBatchInProgress
	}

	return func() {
		defer l.local.Unlock()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.redis, []string{batchLockKey}, token).Err(); err != nil {
			l.logger.WithError(err).Warn("Failed to release batch lock, it will expire on its own")
		}
	}, nil
}
