package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another run holds the lock.
var ErrLockHeld = errors.New("store: restore lock held")

// RunLock serializes restore runs against one target.
type RunLock interface {
	// Acquire takes the lock for at most ttl. The returned func releases it.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

// MemoryRunLock guards runs inside one process.
type MemoryRunLock struct {
	mu      sync.Mutex
	owner   string
	expires time.Time
}

// NewMemoryRunLock builds an in-process lock.
func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{}
}

// Acquire takes the lock unless a live holder exists.
func (l *MemoryRunLock) Acquire(_ context.Context, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.owner != "" && (l.expires.IsZero() || now.Before(l.expires)) {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	l.owner = token
	l.expires = time.Time{}
	if ttl > 0 {
		l.expires = now.Add(ttl)
	}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.owner == token {
			l.owner = ""
		}
		return nil
	}, nil
}

// RedisRunLock holds the lock as a Redis key with TTL so a crashed run frees
// it eventually.
type RedisRunLock struct {
	client *redis.Client
	key    string
}

const defaultRunLockKey = "otzaria:restore:lock"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisRunLock builds a Redis-backed lock.
func NewRedisRunLock(addr, password string) *RedisRunLock {
	return &RedisRunLock{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: defaultRunLockKey,
	}
}

// Acquire sets the lock key if absent.
func (l *RedisRunLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if err != nil && err != redis.Nil {
			return err
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (l *RedisRunLock) Close() error {
	return l.client.Close()
}
