package cachegc

import (
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	lru, err := simplelru.NewLRU(4, nil)
	require.NoError(t, err)
	c := NewCache(lru, time.Hour)

	c.Add("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	// Capacity bound evicts the least recently used entry.
	for _, k := range []string{"b", "c", "d", "e"} {
		c.Add(k, k)
	}
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	lru, err := simplelru.NewLRU(4, nil)
	require.NoError(t, err)
	c := NewCache(lru, time.Millisecond)

	c.Add("a", 1)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
