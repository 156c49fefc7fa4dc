// Package lock provides the lease that keeps a single pipeline run active
// across processes.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed process can hold the lease.
	DefaultTTL = 2 * time.Hour

	DefaultKey = "mailpilot:run-lock"
)

// Locker grants at most one owner at a time.
type Locker interface {
	// Acquire reports whether owner now holds the lease.
	Acquire(ctx context.Context, owner string) (bool, error)
	// Release gives the lease up if owner still holds it.
	Release(ctx context.Context, owner string) error
}

// NopLocker always grants the lease. The pipeline's own state guards a
// single process.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (bool, error) { return true, nil }
func (NopLocker) Release(context.Context, string) error         { return nil }

// releaseScript deletes the key only when it still holds owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX lease with a TTL.
type RedisLocker struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl}
}

// NewRedisLockerFromURL parses a redis:// URL.
func NewRedisLockerFromURL(url, key string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opt), key, ttl), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, owner string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock SETNX: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	return nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
