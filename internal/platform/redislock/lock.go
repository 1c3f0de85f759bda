// Package redislock provides a best-effort mutual-exclusion lock on Redis,
// used so that only one replica runs each scheduled job per tick.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "enhancer:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Locker acquires named locks in Redis.
type Locker struct {
	client redis.Cmdable
}

// New returns a Locker backed by client.
func New(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

// TryAcquire attempts to take the lock named name for ttl. It never waits:
// ok is false when another holder has it. The returned release function is
// safe to call once the work is done, even after the ttl has passed.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis unlock %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}
