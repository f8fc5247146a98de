package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/lot-allocation/internal/port"
)

const (
	lockKeyPrefix         = "allocation-lock:"
	defaultIdempotencyTTL = 24 * time.Hour
	defaultLockTTL        = 30 * time.Second
	lockRetryInterval     = 20 * time.Millisecond
)

// releaseLockScript deletes the lock only while it still carries our token,
// so an expired lock taken over by another run is left alone.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.IdempotencyStore = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// RedisLocker serializes allocation runs across processes. Each key is a
// SET NX PX entry holding a per-acquisition token.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	sorted := slices.Compact(slices.Sorted(slices.Values(keys)))
	token := uuid.NewString()

	var held []string
	release := func() {
		// release must work even after the caller's ctx is cancelled
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			releaseLockScript.Run(ctx, l.client, []string{held[i]}, token)
		}
	}

	for _, key := range sorted {
		redisKey := lockKeyPrefix + key
		if err := l.acquire(ctx, redisKey, token); err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		held = append(held, redisKey)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
