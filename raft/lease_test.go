package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseValidWithinDeadline(t *testing.T) {
	l := newLease()
	start := time.Unix(1000, 0)
	l.renew(start, 300*time.Millisecond, 2.0) // deadline = start + 150ms

	require.True(t, l.valid(start.Add(100*time.Millisecond)))
	require.False(t, l.valid(start.Add(200*time.Millisecond)))
}

func TestLeaseRenewNeverMovesDeadlineBackward(t *testing.T) {
	l := newLease()
	start := time.Unix(1000, 0)
	l.renew(start, 300*time.Millisecond, 2.0)
	first := l.deadline

	// A stale round (started before the one that already renewed) must not
	// be able to shrink the lease.
	l.renew(start.Add(-time.Second), 300*time.Millisecond, 2.0)
	require.Equal(t, first, l.deadline)
}

func TestLeaseClockDriftBoundFloorsAtOne(t *testing.T) {
	l := newLease()
	start := time.Unix(1000, 0)
	l.renew(start, 300*time.Millisecond, 0.5) // bound < 1.0 must clamp to 1.0
	require.Equal(t, start.Add(300*time.Millisecond), l.deadline)
}

func TestLeaseDestroyInvalidatesImmediately(t *testing.T) {
	l := newLease()
	start := time.Unix(1000, 0)
	l.renew(start, 300*time.Millisecond, 1.0)
	require.True(t, l.valid(start))

	l.destroy()
	require.False(t, l.valid(start))
}
