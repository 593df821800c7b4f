package cachesvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is the in-process Cache and Locker used when redis is not configured.
// Values go through JSON like in redis so callers never share memory with the cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	locks   map[string]time.Time
	nowFunc func() time.Time
}

var (
	_ core.Cache  = (*MemoryCache)(nil)
	_ core.Locker = (*MemoryCache)(nil)
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		locks:   make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.expires.IsZero() && c.nowFunc().After(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, errors.Wrapf(err, "decoding cached %s", key)
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	e := memEntry{data: data}
	if ttl > 0 {
		e.expires = c.nowFunc().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Acquire(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	if exp, held := c.locks[name]; held && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	c.locks[name] = exp
	return func() {
		c.mu.Lock()
		if c.locks[name] == exp {
			delete(c.locks, name)
		}
		c.mu.Unlock()
	}, true, nil
}
