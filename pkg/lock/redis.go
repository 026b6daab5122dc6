package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when it still holds our token, so an
// expired lock reacquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockerConfig tunes acquisition behaviour.
type RedisLockerConfig struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxWait       time.Duration
}

// RedisLocker implements Locker with per-key SET NX PX locks. It coordinates
// writers across multiple API instances sharing one Redis.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisLockerConfig
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Second
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// Acquire takes every key or none. Keys already held elsewhere are retried
// until MaxWait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalizeKeys(keys)
	token := uuid.NewString()

	deadline, cancel := context.WithTimeout(ctx, l.cfg.MaxWait)
	defer cancel()

	acquired := make([]string, 0, len(ordered))
	releaseAll := func() {
		// Release with a background context so held keys are freed even
		// when the caller's context is already cancelled.
		bg, bgCancel := context.WithTimeout(context.Background(), l.cfg.TTL)
		defer bgCancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = releaseScript.Run(bg, l.client, []string{acquired[i]}, token).Err()
		}
	}

	for _, key := range ordered {
		if err := l.acquireOne(deadline, key, token); err != nil {
			releaseAll()
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		acquired = append(acquired, key)
	}

	return releaseAll, nil
}

func (l *RedisLocker) acquireOne(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(l.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
