package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"raftcluster/clock"
	"raftcluster/clusterconfig"
	"raftcluster/raft"
	"raftcluster/raftlog"
	"raftcluster/statemachine"
)

// newTestController builds a standalone Controller with no peers, wired
// up the same way raft's own cluster_test.go harness does it, just
// without the in-process localMember indirection, since here the wire
// itself is what's under test.
func newTestController(t *testing.T, id string) *raft.Controller {
	t.Helper()
	log, err := raftlog.Open(t.TempDir())
	require.NoError(t, err)
	store := clusterconfig.NewStore([]clusterconfig.Member{{ID: id, Endpoint: id}})
	cfg := raft.Config{
		ElectionTimeoutMin: 300 * time.Millisecond,
		ElectionTimeoutMax: 600 * time.Millisecond,
		HeartbeatThreshold: 0.2,
		ClockDriftBound:    2.0,
	}
	logger := raft.NewLogger(id, logrus.ErrorLevel)
	return raft.NewController(id, cfg, log, store, map[string]raft.Member{}, statemachine.New(), clock.New(), logger, raft.Events{})
}

// TestServerPeerRoundTripVote drives a real grpc.Server/grpc.ClientConn
// pair through the hand-built ServiceDesc and gob codec end to end,
// rather than calling Controller methods directly the way the raft
// package's own tests do.
func TestServerPeerRoundTripVote(t *testing.T) {
	ctrl := newTestController(t, "node0")

	srv, err := NewServer("127.0.0.1:0", ctrl)
	require.NoError(t, err)
	go srv.Start()
	defer srv.Stop()

	peer := NewPeer("node0", srv.Addr())
	defer peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := peer.Vote(ctx, raft.VoteArgs{
		Term:         1,
		CandidateID:  "candidate1",
		LastLogIndex: 0,
		LastLogTerm:  0,
	})
	require.NoError(t, err)
	require.True(t, result.Value)
	require.Equal(t, uint64(1), result.Term)

	// A second candidate asking for the same term loses the vote: the
	// Controller already recorded candidate1 as votedFor over the wire.
	result, err = peer.Vote(ctx, raft.VoteArgs{
		Term:         1,
		CandidateID:  "candidate2",
		LastLogIndex: 0,
		LastLogTerm:  0,
	})
	require.NoError(t, err)
	require.False(t, result.Value)
}

// TestServerPeerRoundTripPreVote exercises a second method to confirm the
// ServiceDesc dispatches more than one RPC correctly across the same
// connection.
func TestServerPeerRoundTripPreVote(t *testing.T) {
	ctrl := newTestController(t, "node0")

	srv, err := NewServer("127.0.0.1:0", ctrl)
	require.NoError(t, err)
	go srv.Start()
	defer srv.Stop()

	peer := NewPeer("node0", srv.Addr())
	defer peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := peer.PreVote(ctx, raft.PreVoteArgs{NextTerm: 1, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	require.Equal(t, raft.PreVoteAccepted, result.Value)
}

// TestPeerCancelPendingRequestsAbortsInFlightCall confirms
// CancelPendingRequests actually cancels the context that trackCall hands
// out for a call (the context invoke passes to the RPC), rather than just
// bookkeeping.
func TestPeerCancelPendingRequestsAbortsInFlightCall(t *testing.T) {
	ctrl := newTestController(t, "node0")

	srv, err := NewServer("127.0.0.1:0", ctrl)
	require.NoError(t, err)
	go srv.Start()
	defer srv.Stop()

	peer := NewPeer("node0", srv.Addr())
	defer peer.Close()

	ctx, done := peer.trackCall(context.Background())
	defer done()
	peer.CancelPendingRequests()

	require.Error(t, ctx.Err())
}
