package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTermCachePutGet(t *testing.T) {
	c := newTermCache()
	_, ok := c.get(5)
	require.False(t, ok)

	c.put(5, 3)
	term, ok := c.get(5)
	require.True(t, ok)
	require.Equal(t, uint64(3), term)
}

func TestTermCacheClearsWholesaleOnOverflow(t *testing.T) {
	c := newTermCache()
	for i := uint64(0); i < maxTermCacheSize; i++ {
		c.put(i, i)
	}
	// The cache is now full; one more put clears everything before
	// inserting (SPEC_FULL.md §9 Open Question #2: wholesale clear, not LRU).
	c.put(maxTermCacheSize, 999)

	_, ok := c.get(0)
	require.False(t, ok, "earlier entries should have been cleared on overflow")

	term, ok := c.get(maxTermCacheSize)
	require.True(t, ok)
	require.Equal(t, uint64(999), term)
}

func TestTermCacheClear(t *testing.T) {
	c := newTermCache()
	c.put(1, 1)
	c.clear()
	_, ok := c.get(1)
	require.False(t, ok)
}
