package raft

import (
	"context"
	"sync"
)

// completionSource is a reusable, versioned future (spec §9, "Completion
// sources / manual-reset futures"). A single instance is reset() at the
// start of each logical round (an election, a leadership term) and
// complete()d at most once per round; callers that Wait() block until
// either their own round's completion fires or ctx is done. A completion
// fired for a stale version is silently ignored, the same weak-identity
// guard the role states use for their generation counters.
type completionSource[T any] struct {
	mu      sync.Mutex
	version uint64
	done    chan struct{}
	value   T
	err     error
}

func newCompletionSource[T any]() *completionSource[T] {
	return &completionSource[T]{done: make(chan struct{})}
}

// reset starts a new round and returns its version token.
func (c *completionSource[T]) reset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.done = make(chan struct{})
	var zero T
	c.value, c.err = zero, nil
	return c.version
}

// complete finishes the round identified by version, if it is still the
// current one. Returns false if version is stale.
func (c *completionSource[T]) complete(version uint64, value T, err error) bool {
	c.mu.Lock()
	if version != c.version {
		c.mu.Unlock()
		return false
	}
	c.value, c.err = value, err
	ch := c.done
	c.mu.Unlock()
	close(ch)
	return true
}

// wait blocks until the current round completes or ctx is canceled.
func (c *completionSource[T]) wait(ctx context.Context) (T, error) {
	c.mu.Lock()
	ch := c.done
	c.mu.Unlock()

	select {
	case <-ch:
		c.mu.Lock()
		v, err := c.value, c.err
		c.mu.Unlock()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
