package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUPutGet(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("MILL_6.ORE_FEED", 1)
	v, ok := c.Get("MILL_6.ORE_FEED")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("MILL_6.WATER_MILL")
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUEvictsLeastRecent(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // refresh a
	c.Put("c", 3)     // evicts b

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUTTLExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRU[string, int](4, 30*time.Second)
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	now = now.Add(31 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUReset(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Reset()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUDelete(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)
	c.Put("a", 1)
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUPutUpdatesExisting(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Put("a", 1)
	c.Put("a", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}
