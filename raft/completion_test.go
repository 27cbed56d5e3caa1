package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompletionSourceWaitReturnsCompletedValue(t *testing.T) {
	cs := newCompletionSource[int]()
	version := cs.reset()

	go func() {
		ok := cs.complete(version, 42, nil)
		require.True(t, ok)
	}()

	value, err := cs.wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestCompletionSourceDropsStaleVersion(t *testing.T) {
	cs := newCompletionSource[int]()
	version := cs.reset()

	// A completion for an old version, after a new round has already
	// started, must be a no-op (the generation-counter weak-identity
	// pattern from SPEC_FULL.md §9).
	cs.reset()
	ok := cs.complete(version, 1, nil)
	require.False(t, ok)
}

func TestCompletionSourceWaitRespectsContextCancellation(t *testing.T) {
	cs := newCompletionSource[int]()
	cs.reset()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cs.wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
