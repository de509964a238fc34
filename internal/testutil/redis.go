package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FakeRedis is a simple in-memory Redis mock for testing. It implements the
// commands the lockers use.
type FakeRedis struct {
	sync.Mutex
	values      map[string]string
	expirations map[string]time.Time
}

// NewFakeRedis creates a new fake Redis instance
func NewFakeRedis() *FakeRedis {
	return &FakeRedis{
		values:      make(map[string]string),
		expirations: make(map[string]time.Time),
	}
}

// expire drops key if its expiry has passed. Caller holds the lock.
func (f *FakeRedis) expire(key string) {
	if exp, ok := f.expirations[key]; ok && !exp.After(time.Now()) {
		delete(f.values, key)
		delete(f.expirations, key)
	}
}

func (f *FakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.Lock()
	defer f.Unlock()
	f.expire(key)
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

// SetNX - set if Not eXists
func (f *FakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.Lock()
	defer f.Unlock()
	f.expire(key)
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = fmt.Sprintf("%v", value)
	if expiration > 0 {
		f.expirations[key] = time.Now().Add(expiration)
	} else {
		delete(f.expirations, key)
	}
	cmd.SetVal(true)
	return cmd
}

func (f *FakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.Lock()
	defer f.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			n++
		}
		delete(f.values, key)
		delete(f.expirations, key)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(n)
	return cmd
}

// Expire forces key to expire, simulating a lock whose holder died.
func (f *FakeRedis) Expire(key string) {
	f.Lock()
	defer f.Unlock()
	delete(f.values, key)
	delete(f.expirations, key)
}

// Has reports whether key is currently set.
func (f *FakeRedis) Has(key string) bool {
	f.Lock()
	defer f.Unlock()
	f.expire(key)
	_, ok := f.values[key]
	return ok
}
