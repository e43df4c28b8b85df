package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock gives every operation a distinct, strictly increasing tick.
func fakeClock(c *Cache) {
	var tick int64
	c.now = func() int64 {
		tick++
		return tick
	}
}

func TestLookup(t *testing.T) {
	t.Run("MissOnEmptyCache", func(t *testing.T) {
		c := New(4)
		_, ok := c.Lookup("a.txt")
		assert.False(t, ok)
	})

	t.Run("HitAfterAdd", func(t *testing.T) {
		c := New(4)
		c.Add("a.txt", 2)

		node, ok := c.Lookup("a.txt")
		require.True(t, ok)
		assert.Equal(t, 2, node)

		hits, misses := c.Stats()
		assert.Equal(t, uint64(1), hits)
		assert.Equal(t, uint64(0), misses)
	})

	t.Run("AddRefreshesExistingEntry", func(t *testing.T) {
		c := New(4)
		c.Add("a.txt", 0)
		c.Add("a.txt", 5)

		node, ok := c.Lookup("a.txt")
		require.True(t, ok)
		assert.Equal(t, 5, node)
	})
}

func TestEviction(t *testing.T) {
	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		c := New(3)
		fakeClock(c)

		c.Add("a.txt", 0)
		c.Add("b.txt", 1)
		c.Add("c.txt", 2)

		// Touch a.txt so b.txt becomes the stalest entry.
		_, ok := c.Lookup("a.txt")
		require.True(t, ok)

		c.Add("d.txt", 3)

		_, ok = c.Lookup("b.txt")
		assert.False(t, ok, "b.txt should have been evicted")
		_, ok = c.Lookup("a.txt")
		assert.True(t, ok)
		_, ok = c.Lookup("d.txt")
		assert.True(t, ok)
	})

	t.Run("CapacityIsRespected", func(t *testing.T) {
		c := New(2)
		fakeClock(c)

		for i := 0; i < 5; i++ {
			c.Add(fmt.Sprintf("f%d.txt", i), i)
		}

		live := 0
		for i := 0; i < 5; i++ {
			if _, ok := c.Lookup(fmt.Sprintf("f%d.txt", i)); ok {
				live++
			}
		}
		assert.Equal(t, 2, live)
	})
}

func TestInvalidation(t *testing.T) {
	t.Run("ByName", func(t *testing.T) {
		c := New(4)
		c.Add("a.txt", 0)
		c.Invalidate("a.txt")

		_, ok := c.Lookup("a.txt")
		assert.False(t, ok)
	})

	t.Run("ByNode", func(t *testing.T) {
		c := New(4)
		c.Add("a.txt", 0)
		c.Add("b.txt", 1)
		c.Add("c.txt", 0)

		c.InvalidateNode(0)

		_, ok := c.Lookup("a.txt")
		assert.False(t, ok)
		_, ok = c.Lookup("c.txt")
		assert.False(t, ok)
		_, ok = c.Lookup("b.txt")
		assert.True(t, ok)
	})
}
