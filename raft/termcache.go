package raft

import "sync"

// maxTermCacheSize bounds the preceding-term cache (C4). SPEC_FULL.md §9
// Open Question #2 decides this stays a literal wholesale-clear-on-overflow
// cache rather than being upgraded to an LRU: the spec frames LRU eviction
// as a future improvement, not a present requirement, and a full log replay
// after a clear is already the cache's cold-start behavior.
const maxTermCacheSize = 100

// termCache remembers the term stored at a given log index so a leader's
// replicator can satisfy AppendEntries' prevLogTerm check without re-reading
// the log for every replicated index (C4).
type termCache struct {
	mu sync.Mutex
	m  map[uint64]uint64
}

func newTermCache() *termCache {
	return &termCache{m: make(map[uint64]uint64)}
}

func (c *termCache) get(index uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	term, ok := c.m[index]
	return term, ok
}

func (c *termCache) put(index, term uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.m) >= maxTermCacheSize {
		c.m = make(map[uint64]uint64)
	}
	c.m[index] = term
}

func (c *termCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[uint64]uint64)
}
