package raft

import "sync"

// replicationQueue implements C6: the barrier callers of Replicate,
// ApplyReadBarrier and ForceReplication join to wait for "the next full
// heartbeat round" to complete, without each caller needing its own timer
// or retry loop. join() enqueues the caller into the round in progress;
// completeRound() closes every waiter's channel and "switches the barrier
// valve" by installing a fresh slice, so anyone who calls join() after
// completeRound() returns is queued for the following round instead of
// the one that just finished.
type replicationQueue struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func newReplicationQueue() *replicationQueue {
	return &replicationQueue{}
}

func (q *replicationQueue) join() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	return ch
}

func (q *replicationQueue) completeRound() {
	q.mu.Lock()
	done := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, ch := range done {
		close(ch)
	}
}
