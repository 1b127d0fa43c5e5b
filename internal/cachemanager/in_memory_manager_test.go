package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCacheManagerSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)

	_, found := c.Get(ctx, "missing")
	assert.False(t, found)

	c.Set(ctx, "answer", 42, time.Minute)
	got, found := c.Get(ctx, "answer")
	assert.True(t, found)
	assert.Equal(t, 42, got)
}

func TestInMemoryCacheManagerExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "ephemeral", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, found := c.Get(ctx, "ephemeral")
	assert.False(t, found)
}

func TestInMemoryCacheManagerGetWithRefresh(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "k", "v", 40*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, found := c.GetWithRefresh(ctx, "k", time.Minute)
	assert.True(t, found)

	time.Sleep(30 * time.Millisecond)
	_, found = c.Get(ctx, "k")
	assert.True(t, found, "refresh should have extended the TTL")
}

func TestInMemoryCacheManagerDeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCacheManager[string, int]("test", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)

	assert.NoError(t, c.Delete(ctx, "a"))
	_, found := c.Get(ctx, "a")
	assert.False(t, found)

	assert.NoError(t, c.Flush(ctx))
	_, found = c.Get(ctx, "b")
	assert.False(t, found)
}
