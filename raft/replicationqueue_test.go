package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplicationQueueJoinCompletesOnRound(t *testing.T) {
	q := newReplicationQueue()
	ch := q.join()

	select {
	case <-ch:
		t.Fatal("waiter completed before completeRound was called")
	default:
	}

	q.completeRound()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter never completed")
	}
}

func TestReplicationQueueValveSwitchesToNextRound(t *testing.T) {
	q := newReplicationQueue()
	first := q.join()
	q.completeRound()

	// A joiner after completeRound belongs to the *next* round: it must
	// not already be closed.
	second := q.join()
	select {
	case <-first:
	default:
		t.Fatal("first round waiter should already be complete")
	}
	select {
	case <-second:
		t.Fatal("second round waiter completed without its own completeRound")
	default:
	}

	q.completeRound()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second round waiter never completed")
	}
}

func TestReplicationQueueCompleteRoundWithNoWaitersIsSafe(t *testing.T) {
	q := newReplicationQueue()
	require.NotPanics(t, q.completeRound)
}
