package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes sweep runs across processes. Acquire returns
// ok=false when another holder owns the lock; release is atomic with
// respect to the holder's token so an expired holder cannot free a
// successor's lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// releaseScript deletes the lock key only when it still carries the
// caller's token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker implements the lock with SET key token NX EX ttl.
type RedisLocker struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "poker:sweep:lock"
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisLocker{Client: client, Key: key, TTL: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		return l.Client.Eval(ctx, releaseScript, []string{l.Key}, token).Err()
	}
	return release, true, nil
}

// MemoryLocker is the in-process lock used by tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held bool
}

func NewMemoryLocker() *MemoryLocker { return &MemoryLocker{} }

func (l *MemoryLocker) Acquire(context.Context) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		return nil
	}
	return release, true, nil
}
