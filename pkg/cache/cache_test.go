package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, 1, s.Items)
}

func TestExpiration(t *testing.T) {
	c := New[string](Options{TTL: time.Minute})
	defer c.Close()
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.Set("a", "x")
	c.SetWithTTL("forever", "y", 0)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestSweepDropsExpired(t *testing.T) {
	c := New[int](Options{TTL: time.Second})
	defer c.Close()
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(time.Minute)
	c.sweep()
	assert.Equal(t, 0, c.Stats().Items)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](Options{MaxItems: 2})
	defer c.Close()

	c.Set("first", 1)
	c.Set("second", 2)
	_, ok := c.Get("first")
	require.True(t, ok)
	c.Set("third", 3)

	_, ok = c.Get("second")
	assert.False(t, ok)
	_, ok = c.Get("first")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Stats().Items)
}

func TestOverwriteKeepsSize(t *testing.T) {
	c := New[int](Options{MaxItems: 1})
	defer c.Close()

	c.Set("a", 1)
	c.Set("a", 2)
	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
	assert.Zero(t, c.Stats().Evictions)

	c.Delete("a")
	c.Set("b", 1)
	c.Flush()
	assert.Zero(t, c.Stats().Items)
}
