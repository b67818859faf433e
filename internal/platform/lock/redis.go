// Package lock provides a Redis-backed mutual exclusion lease for jobs that must run on one replica at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddr is returned by Open when no Redis address is configured.
var ErrEmptyAddr = errors.New("lock: redis address is empty")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Open connects to Redis and pings it.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrEmptyAddr
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	return client, nil
}

// RedisLocker hands out leases keyed by name. A lease expires on its own after its TTL,
// so a crashed holder never blocks other replicas for longer than that.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker returns a locker that namespaces keys under prefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "easybaby:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock acquires key for ttl without waiting. ok is false when another holder owns it.
// The returned release deletes the key only if this holder still owns it.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release = func(ctx context.Context) error {
		if err := releaseLua.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
