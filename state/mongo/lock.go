package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLocker serializes access to a run's state across every process sharing
// a Mongo backend, the role state/inmem/adapter.go's per-run sync.Mutex map
// plays within a single process. Lock blocks until it acquires key or ctx is
// done, and returns an unlock func the caller must invoke exactly once.
type RunLocker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context), err error)
}

// redisLocker implements RunLocker with a Redis SET NX PX lease, following
// the same "wrap a *redis.Client behind a narrow interface" shape as
// features/stream/pulse/clients/pulse/client.go's Options{Redis: ...}/New
// pattern.
type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker returns a RunLocker backed by client. ttl bounds how long a
// lock is held before it expires on its own (guarding against a crashed
// holder wedging a run forever); zero uses a 10s default.
func NewRedisLocker(client *redis.Client, ttl time.Duration) (RunLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}, nil
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(context.Context), error) {
	token := uuid.NewString()
	redisKey := "codeflow:lock:" + key
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	unlock := func(unlockCtx context.Context) {
		// Only release the lock if we still hold it: a lease that expired
		// under us must not be deleted out from under its new owner.
		val, err := l.client.Get(unlockCtx, redisKey).Result()
		if err == nil && val == token {
			_ = l.client.Del(unlockCtx, redisKey).Err()
		}
	}
	return unlock, nil
}
