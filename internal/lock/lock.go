// Package lock provides Locker implementations that give one session at a
// time ownership of a working copy or a remote project.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"geosync/internal/geosync"
)

// FileLocker locks a working copy with a lock file created exclusively
// under its metadata directory. The key is the working copy root.
type FileLocker struct {
	clock geosync.Clock
}

var _ geosync.Locker = (*FileLocker)(nil)

// NewFileLocker creates a FileLocker.
func NewFileLocker(clock geosync.Clock) *FileLocker {
	return &FileLocker{clock: clock}
}

// LockPath returns the lock file of the working copy at root.
func LockPath(root string) string {
	return filepath.Join(root, ".geosync", "lock")
}

func (l *FileLocker) Lock(ctx context.Context, key string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := LockPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w (remove %s if no other session is running)", geosync.ErrLocked, p)
	}
	if err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	host, _ := os.Hostname()
	_, werr := fmt.Fprintf(f, "pid=%d host=%s since=%s\n", os.Getpid(), host, l.clock.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(p)
		return nil, fmt.Errorf("writing lock file: %w", werr)
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			if rerr := os.Remove(p); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				err = fmt.Errorf("removing lock file: %w", rerr)
			}
		})
		return err
	}, nil
}

// MemoryLocker holds locks in process memory. It is safe for concurrent use.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ geosync.Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", geosync.ErrLocked, key)
	}
	l.held[key] = true

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// RedisClient is the subset of the Redis client used for locking.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DefaultRedisTTL bounds how long a lock outlives a crashed holder.
const DefaultRedisTTL = 30 * time.Minute

// RedisLocker holds locks as Redis keys with an expiry, so sessions on
// different machines sharing storage exclude each other.
type RedisLocker struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

var _ geosync.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. Keys are stored as prefix+key.
func NewRedisLocker(client RedisClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func() error, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", k, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", geosync.ErrLocked, key)
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			ctx := context.WithoutCancel(ctx)
			// The key may have expired and been taken by another session.
			held, gerr := l.client.Get(ctx, k).Result()
			if errors.Is(gerr, redis.Nil) {
				return
			}
			if gerr != nil {
				err = fmt.Errorf("releasing lock %s: %w", k, gerr)
				return
			}
			if held != token {
				return
			}
			if derr := l.client.Del(ctx, k).Err(); derr != nil {
				err = fmt.Errorf("releasing lock %s: %w", k, derr)
			}
		})
		return err
	}, nil
}
