package merging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired before the timeout
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker serializes merges touching the same entities. Keys are locked in sorted order
// and the returned func releases all of them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// IN-PROCESS
// =============================================================================

// LocalLocker is a keyed mutex for a single process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyLock{}}
}

// Lock blocks until every key is held or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

func (l *LocalLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		return
	}
	<-kl.ch
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// =============================================================================
// REDIS
// =============================================================================

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker serializes merges across processes with SET NX locks
type RedisLocker struct {
	rdb       redis.UniversalClient
	logger    ectologger.Logger
	keyPrefix string
	ttl       time.Duration
	timeout   time.Duration
}

// NewRedisLocker creates a RedisLocker. Zero ttl and timeout default to 30s and 5s.
func NewRedisLocker(rdb redis.UniversalClient, logger ectologger.Logger, keyPrefix string, ttl, timeout time.Duration) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "fern:merge:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisLocker{
		rdb:       rdb,
		logger:    logger,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		timeout:   timeout,
	}
}

type redisLock struct {
	key   string
	value string
}

// Lock acquires every key, retrying with backoff until the timeout
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]redisLock, 0, len(keys))

	release := func() {
		// release must run even when the caller's ctx is already cancelled
		rctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.release(rctx, held[i]); err != nil {
				l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": held[i].key}).Warn("Failed to release merge lock")
			}
		}
	}

	for _, k := range keys {
		lock, err := l.tryAcquire(ctx, l.keyPrefix+k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key string) (redisLock, error) {
	value := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return redisLock{}, err
	}
	if !ok {
		return redisLock{}, ErrLockNotAcquired
	}
	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return redisLock{key: key, value: value}, nil
}

func (l *RedisLocker) tryAcquire(ctx context.Context, key string) (redisLock, error) {
	deadline := time.Now().Add(l.timeout)
	backoff := 10 * time.Millisecond

	for time.Now().Before(deadline) {
		lock, err := l.acquire(ctx, key)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return redisLock{}, err
		}

		select {
		case <-ctx.Done():
			return redisLock{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
	return redisLock{}, ErrLockNotAcquired
}

func (l *RedisLocker) release(ctx context.Context, lock redisLock) error {
	result, err := releaseScript.Run(ctx, l.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
