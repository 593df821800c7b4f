package cachesvc_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benhuang0857/mclass/core"
	cachesvc "github.com/benhuang0857/mclass/services/cache"
	"github.com/benhuang0857/mclass/testutil"
)

type cached struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type cacheLocker interface {
	core.Cache
	core.Locker
}

func newRedisCache(t *testing.T) (*cachesvc.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	conf := core.NewTestConfig()
	return cachesvc.NewRedisCache(rdb, conf, testutil.NewLogger(conf)), mr
}

func TestCaches(t *testing.T) {
	rc, _ := newRedisCache(t)
	for name, c := range map[string]cacheLocker{"memory": cachesvc.NewMemoryCache(), "redis": rc} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var got cached
			found, err := c.Get(ctx, "missing", &got)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, c.Set(ctx, "k", cached{Name: "a", Count: 2}, time.Minute))
			found, err = c.Get(ctx, "k", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, cached{Name: "a", Count: 2}, got)

			require.NoError(t, c.Delete(ctx))
			require.NoError(t, c.Delete(ctx, "k", "missing"))
			found, err = c.Get(ctx, "k", &got)
			require.NoError(t, err)
			assert.False(t, found)

			release, ok, err := c.Acquire(ctx, "job", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)
			_, ok, err = c.Acquire(ctx, "job", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "lock is held")
			release()
			release2, ok, err := c.Acquire(ctx, "job", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "lock was released")
			release2()
		})
	}
}

func TestRedisCache_prefixAndExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	prefix := core.NewTestConfig().AppName + ":"

	require.NoError(t, c.Set(ctx, "k", cached{Name: "x"}, time.Minute))
	assert.True(t, mr.Exists(prefix+"k"))

	mr.FastForward(2 * time.Minute)
	var got cached
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mr.Set(prefix+"bad", "{"))
	_, err = c.Get(ctx, "bad", &got)
	assert.Error(t, err)
}

func TestRedisCache_releaseKeepsForeignLock(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	key := core.NewTestConfig().AppName + ":lock:job"

	release, ok, err := c.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// expire our lock and let another process take it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(key, "someone-else"))
	release()

	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}
