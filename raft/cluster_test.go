// raft/cluster_test.go
package raft

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"raftcluster/clock"
	"raftcluster/clusterconfig"
	"raftcluster/raftlog"
	"raftcluster/statemachine"
)

// errMemberDown simulates a transport failure, the way the teacher's own
// test doubles stand in for a real network without one (spec §7,
// "MemberUnavailable").
var errMemberDown = errors.New("raft: test member down")

// localMember wires one Controller directly into another's RPC surface,
// skipping the transport/grpc package entirely — an in-process Member
// double in the spirit of the teacher's own createTestNode/createTestCluster
// helpers (raft/election_test.go), generalized to support toggling a link
// down to simulate MemberUnavailable without tearing down a whole node.
type localMember struct {
	id     string
	target *Controller
	rs     ReplicationState
	up     atomic.Bool
}

func newLocalMember(id string, target *Controller) *localMember {
	lm := &localMember{id: id, target: target}
	lm.up.Store(true)
	return lm
}

func (m *localMember) setUp(v bool) { m.up.Store(v) }

func (m *localMember) ID() string                         { return m.id }
func (m *localMember) Endpoint() string                    { return m.id }
func (m *localMember) IsRemote() bool                       { return true }
func (m *localMember) ReplicationState() *ReplicationState { return &m.rs }
func (m *localMember) CancelPendingRequests()               {}

func (m *localMember) AppendEntries(ctx context.Context, args AppendEntriesArgs) (Result[AppendEntriesValue], error) {
	if !m.up.Load() {
		return Result[AppendEntriesValue]{}, errMemberDown
	}
	return m.target.AppendEntries(ctx, args)
}

func (m *localMember) Vote(ctx context.Context, args VoteArgs) (Result[bool], error) {
	if !m.up.Load() {
		return Result[bool]{}, errMemberDown
	}
	return m.target.Vote(ctx, args)
}

func (m *localMember) PreVote(ctx context.Context, args PreVoteArgs) (Result[PreVoteOutcome], error) {
	if !m.up.Load() {
		return Result[PreVoteOutcome]{}, errMemberDown
	}
	return m.target.PreVote(ctx, args)
}

func (m *localMember) InstallSnapshot(ctx context.Context, args InstallSnapshotArgs) (Result[bool], error) {
	if !m.up.Load() {
		return Result[bool]{}, errMemberDown
	}
	return m.target.InstallSnapshot(ctx, args)
}

func (m *localMember) Synchronize(ctx context.Context, args SynchronizeArgs) (SynchronizeValue, error) {
	if !m.up.Load() {
		return SynchronizeValue{}, errMemberDown
	}
	return m.target.Synchronize(ctx, args)
}

func (m *localMember) Resign(ctx context.Context) (bool, error) {
	if !m.up.Load() {
		return false, errMemberDown
	}
	return m.target.Resign(ctx)
}

// harness wires n Controllers to each other through localMember, each with
// its own FileLog under a temp directory and its own in-memory state
// machine.
type harness struct {
	ids     []string
	ctrls   []*Controller
	members [][]*localMember // members[i][j]: node i's link to node j ("" on the diagonal)
}

func fastTestConfig() Config {
	return Config{
		ElectionTimeoutMin: 300 * time.Millisecond,
		ElectionTimeoutMax: 600 * time.Millisecond,
		HeartbeatThreshold: 0.2,
		ClockDriftBound:    2.0,
	}
}

func newHarness(t *testing.T, n int, cfg Config) *harness {
	t.Helper()

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("node%d", i)
	}
	confMembers := make([]clusterconfig.Member, n)
	for i, id := range ids {
		confMembers[i] = clusterconfig.Member{ID: id, Endpoint: id}
	}

	h := &harness{ids: ids, ctrls: make([]*Controller, n), members: make([][]*localMember, n)}

	for i, id := range ids {
		log, err := raftlog.Open(t.TempDir())
		require.NoError(t, err)
		store := clusterconfig.NewStore(confMembers)
		logger := NewLogger(id, logrus.ErrorLevel)
		h.ctrls[i] = NewController(id, cfg, log, store, nil, statemachine.New(), clock.New(), logger, Events{})
		h.members[i] = make([]*localMember, n)
	}

	for i := range ids {
		memberMap := make(map[string]Member, n-1)
		for j := range ids {
			if i == j {
				continue
			}
			lm := newLocalMember(ids[j], h.ctrls[j])
			h.members[i][j] = lm
			memberMap[ids[j]] = lm
		}
		h.ctrls[i].members = memberMap
	}

	return h
}

func (h *harness) startAll(t *testing.T) {
	t.Helper()
	for _, c := range h.ctrls {
		require.NoError(t, c.Start(context.Background()))
	}
}

func (h *harness) stopAll() {
	for _, c := range h.ctrls {
		c.Stop()
	}
}

// waitForLeader polls every node's role until exactly one reports Leader,
// or timeout elapses.
func waitForLeader(t *testing.T, h *harness, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		leaderIdx := -1
		leaders := 0
		for i, c := range h.ctrls {
			role, _, _ := c.GetState()
			if role == RoleLeader {
				leaders++
				leaderIdx = i
			}
		}
		if leaders == 1 {
			return leaderIdx
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no single leader emerged within timeout")
	return -1
}

func TestThreeNodeElectionFromColdStart(t *testing.T) {
	h := newHarness(t, 3, fastTestConfig())
	h.startAll(t)
	defer h.stopAll()

	leaderIdx := waitForLeader(t, h, 3*time.Second)
	_, leaderTerm, _ := h.ctrls[leaderIdx].GetState()
	require.Greater(t, leaderTerm, uint64(0))

	for i, c := range h.ctrls {
		if i == leaderIdx {
			continue
		}
		role, term, leaderID := c.GetState()
		require.Equal(t, RoleFollower, role)
		require.Equal(t, leaderTerm, term)
		require.Equal(t, h.ids[leaderIdx], leaderID)
	}

	ls, ok := h.ctrls[leaderIdx].state.(*leaderState)
	require.True(t, ok)
	require.True(t, ls.lease.valid(h.ctrls[leaderIdx].clock.Now()), "leader lease should be valid just after election")
}

func TestSingleNodeClusterBecomesLeaderAndReplicates(t *testing.T) {
	h := newHarness(t, 1, fastTestConfig())
	h.startAll(t)
	defer h.stopAll()

	leaderIdx := waitForLeader(t, h, 2*time.Second)
	require.Equal(t, 0, leaderIdx)

	payload, err := statemachine.EncodePut("k", []byte("v"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.ctrls[0].Replicate(ctx, payload)
	require.NoError(t, err)
}

func TestCommitRequiresMajority(t *testing.T) {
	h := newHarness(t, 5, fastTestConfig())
	h.startAll(t)
	defer h.stopAll()

	leaderIdx := waitForLeader(t, h, 3*time.Second)
	leader := h.ctrls[leaderIdx]

	followerIdxs := make([]int, 0, 4)
	for i := range h.ctrls {
		if i != leaderIdx {
			followerIdxs = append(followerIdxs, i)
		}
	}

	replicate := func(ctx context.Context) error {
		payload, err := statemachine.EncodePut("k", []byte("v"))
		require.NoError(t, err)
		_, err = leader.Replicate(ctx, payload)
		return err
	}

	// Kill 2 of 4 followers: self + 2 live followers still forms a quorum of 3/5.
	h.members[leaderIdx][followerIdxs[0]].setUp(false)
	h.members[leaderIdx][followerIdxs[1]].setUp(false)

	ctx1, cancel1 := context.WithTimeout(context.Background(), time.Second)
	defer cancel1()
	require.NoError(t, replicate(ctx1))

	// Kill a third: only self + 1 live follower = 2/5, no quorum possible.
	h.members[leaderIdx][followerIdxs[2]].setUp(false)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel2()
	err := replicate(ctx2)
	require.Error(t, err)

	// Restore one follower: back to 3/5 quorum.
	h.members[leaderIdx][followerIdxs[0]].setUp(true)

	ctx3, cancel3 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel3()
	require.NoError(t, replicate(ctx3))
}

func TestReadBarrierOnFollower(t *testing.T) {
	h := newHarness(t, 3, fastTestConfig())
	h.startAll(t)
	defer h.stopAll()

	leaderIdx := waitForLeader(t, h, 3*time.Second)
	leader := h.ctrls[leaderIdx]

	payload, err := statemachine.EncodePut("k", []byte("v"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = leader.Replicate(ctx, payload)
	require.NoError(t, err)

	var followerIdx = -1
	for i := range h.ctrls {
		if i != leaderIdx {
			followerIdx = i
			break
		}
	}
	require.NotEqual(t, -1, followerIdx)

	barrierCtx, barrierCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer barrierCancel()
	require.NoError(t, h.ctrls[followerIdx].ApplyReadBarrier(barrierCtx))
}

func TestReadBarrierFailsWithNoKnownLeader(t *testing.T) {
	cfg := fastTestConfig()
	log, err := raftlog.Open(t.TempDir())
	require.NoError(t, err)
	store := clusterconfig.NewStore([]clusterconfig.Member{{ID: "solo", Endpoint: "solo"}})
	ctrl := NewController("solo", cfg, log, store, map[string]Member{}, statemachine.New(), clock.New(), NewLogger("solo", logrus.ErrorLevel), Events{})

	// A Follower that has never heard from a leader: ApplyReadBarrier must
	// fail rather than block forever (spec §4.1 "fails if no leader known").
	ctrl.mu.Lock()
	ctrl.becomeFollowerLocked(0, "")
	ctrl.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = ctrl.ApplyReadBarrier(ctx)
	require.ErrorIs(t, err, ErrLeaderUnavailable)
}

// TestTermOvertakeStepDown implements spec §8 scenario 6: a node currently
// leading at term 4 receives an AppendEntries from an external sender at
// term 7 and must step down within one lock acquisition.
func TestTermOvertakeStepDown(t *testing.T) {
	log, err := raftlog.Open(t.TempDir())
	require.NoError(t, err)
	store := clusterconfig.NewStore([]clusterconfig.Member{{ID: "node0", Endpoint: "node0"}})
	ctrl := NewController("node0", fastTestConfig(), log, store, map[string]Member{}, statemachine.New(), clock.New(), NewLogger("node0", logrus.ErrorLevel), Events{})

	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.log.SetTerm(4)
	ctrl.becomeLeaderLocked(4)
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	result, err := ctrl.AppendEntries(context.Background(), AppendEntriesArgs{
		Term:         7,
		LeaderID:     "external-leader",
		PrevLogIndex: ctrl.log.LastEntryIndex(),
		PrevLogTerm:  4,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(7), result.Term)
	require.True(t, result.Value.Success)

	role, term, leaderID := ctrl.GetState()
	require.Equal(t, RoleFollower, role)
	require.Equal(t, uint64(7), term)
	require.Equal(t, "external-leader", leaderID)
	require.False(t, ctrl.lastLeaderContact.IsZero())
}

func TestPreVoteNeverMutatesTermOrVote(t *testing.T) {
	h := newHarness(t, 2, fastTestConfig())
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.becomeFollowerLocked(3, "")
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	before := ctrl.log.Term()
	result, err := ctrl.PreVote(context.Background(), PreVoteArgs{NextTerm: 4, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	require.Equal(t, PreVoteAccepted, result.Value)
	require.Equal(t, before, ctrl.log.Term())
	require.True(t, ctrl.log.IsVotedFor("anyone"))
}

func TestPreVoteRejectedByLeaderWithAggressiveStickiness(t *testing.T) {
	cfg := fastTestConfig()
	cfg.AggressiveLeaderStickiness = true
	h := newHarness(t, 2, cfg)
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.log.SetTerm(5)
	ctrl.becomeLeaderLocked(5)
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	result, err := ctrl.PreVote(context.Background(), PreVoteArgs{NextTerm: 6, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	require.Equal(t, PreVoteRejectedByLeader, result.Value)
	require.Equal(t, uint64(5), ctrl.log.Term())
}

func TestAppendEntriesRejectsStaleTerm(t *testing.T) {
	h := newHarness(t, 2, fastTestConfig())
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.log.SetTerm(5)
	ctrl.becomeFollowerLocked(5, "")
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	result, err := ctrl.AppendEntries(context.Background(), AppendEntriesArgs{Term: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(5), result.Term)
	require.False(t, result.Value.Success)
}

func TestVoteGrantedOnlyOncePerTerm(t *testing.T) {
	h := newHarness(t, 3, fastTestConfig())
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.becomeFollowerLocked(1, "")
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	args1 := VoteArgs{Term: 1, CandidateID: "node1", LastLogIndex: 0, LastLogTerm: 0}
	result1, err := ctrl.Vote(context.Background(), args1)
	require.NoError(t, err)
	require.True(t, result1.Value)

	args2 := VoteArgs{Term: 1, CandidateID: "node2", LastLogIndex: 0, LastLogTerm: 0}
	result2, err := ctrl.Vote(context.Background(), args2)
	require.NoError(t, err)
	require.False(t, result2.Value)
}

// TestInstallSnapshotThenAppendEntriesAccepted implements spec §8 scenario
// 4 from the follower's side: a node far behind accepts InstallSnapshot at
// index 100, after which the leader's next AppendEntries with prev=100
// must be accepted.
func TestInstallSnapshotThenAppendEntriesAccepted(t *testing.T) {
	h := newHarness(t, 2, fastTestConfig())
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.becomeFollowerLocked(0, "")
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	donor := statemachine.New()
	payload, err := statemachine.EncodePut("k", []byte("v"))
	require.NoError(t, err)
	_, err = donor.Apply(payload)
	require.NoError(t, err)
	snapshot, err := donor.CreateSnapshot()
	require.NoError(t, err)

	result, err := ctrl.InstallSnapshot(context.Background(), InstallSnapshotArgs{
		Term:          2,
		LeaderID:      "node1",
		Snapshot:      snapshot,
		SnapshotIndex: 100,
		SnapshotTerm:  2,
	})
	require.NoError(t, err)
	require.True(t, result.Value)
	require.Equal(t, uint64(100), ctrl.log.LastCommittedEntryIndex())

	appendResult, err := ctrl.AppendEntries(context.Background(), AppendEntriesArgs{
		Term:         2,
		LeaderID:     "node1",
		PrevLogIndex: 100,
		PrevLogTerm:  2,
		Entries:      []raftlog.Entry{{Term: 2, Payload: payload}},
		LeaderCommit: 100,
	})
	require.NoError(t, err)
	require.True(t, appendResult.Value.Success)
	require.True(t, ctrl.log.Contains(101, 2))
}

// TestStandbyLifecycle walks the explicit role toggles: a node configured
// to start in Standby joins as one, resumes to Follower on request, and
// after Stop the terminal standby refuses to resume (spec §4.1).
func TestStandbyLifecycle(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Standby = true
	h := newHarness(t, 1, cfg)
	h.startAll(t)

	ctrl := h.ctrls[0]
	role, _, _ := ctrl.GetState()
	require.Equal(t, RoleStandby, role)

	// A standby never casts a vote (spec §6 "standby").
	voteResult, err := ctrl.Vote(context.Background(), VoteArgs{Term: 1, CandidateID: "node9"})
	require.NoError(t, err)
	require.False(t, voteResult.Value)

	require.NoError(t, ctrl.RevertToNormalMode())
	role, _, _ = ctrl.GetState()
	require.Equal(t, RoleFollower, role)

	require.NoError(t, ctrl.EnableStandbyMode())
	role, _, _ = ctrl.GetState()
	require.Equal(t, RoleStandby, role)

	require.NoError(t, ctrl.Stop())
	require.ErrorIs(t, ctrl.RevertToNormalMode(), ErrInvalidSourceState)
}

// TestVoteRejectsUnknownCandidateWhileLeaderLive covers the §4.7 leader
// stickiness rule: a candidate outside the known membership cannot pull a
// vote (or even a term bump) while this node still hears from its leader.
func TestVoteRejectsUnknownCandidateWhileLeaderLive(t *testing.T) {
	h := newHarness(t, 3, fastTestConfig())
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.log.SetTerm(1)
	ctrl.becomeFollowerLocked(1, "node1")
	ctrl.lastLeaderContact = ctrl.clock.Now()
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	result, err := ctrl.Vote(context.Background(), VoteArgs{Term: 2, CandidateID: "stranger"})
	require.NoError(t, err)
	require.False(t, result.Value)
	require.Equal(t, uint64(1), ctrl.log.Term(), "a rejected stranger must not bump the term")

	// The same request from a known member is processed normally.
	result, err = ctrl.Vote(context.Background(), VoteArgs{Term: 2, CandidateID: "node1"})
	require.NoError(t, err)
	require.True(t, result.Value)
}

func TestPreVoteRejectedByFollowerAfterRecentLeaderContact(t *testing.T) {
	cfg := fastTestConfig()
	cfg.AggressiveLeaderStickiness = true
	h := newHarness(t, 2, cfg)
	ctrl := h.ctrls[0]
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(context.Background())
	defer ctrl.lifecycleCancel()

	ctrl.mu.Lock()
	ctrl.becomeFollowerLocked(5, "node1")
	ctrl.lastLeaderContact = ctrl.clock.Now()
	ctrl.mu.Unlock()
	defer ctrl.state.stopLocked()

	result, err := ctrl.PreVote(context.Background(), PreVoteArgs{NextTerm: 6, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	require.Equal(t, PreVoteRejectedByFollower, result.Value)
}

// TestProposeConfigurationChangesQuorumDenominator covers review comment
// #1: removing a member via ProposeConfiguration must actually shrink the
// quorum denominator, not just clusterconfig.Store bookkeeping. Starting
// from a 3-node cluster (quorum 2/3, tolerates 1 down), the leader removes
// one follower; afterward the surviving 2-node configuration requires both
// members (quorumSize(2) == 2), so losing the remaining follower must make
// Replicate fail.
func TestProposeConfigurationChangesQuorumDenominator(t *testing.T) {
	h := newHarness(t, 3, fastTestConfig())
	h.startAll(t)
	defer h.stopAll()

	leaderIdx := waitForLeader(t, h, 3*time.Second)
	leader := h.ctrls[leaderIdx]

	var followerIdxs []int
	for i := range h.ctrls {
		if i != leaderIdx {
			followerIdxs = append(followerIdxs, i)
		}
	}
	keepIdx, dropIdx := followerIdxs[0], followerIdxs[1]

	// Sanity check: with one of two followers down, a 3-node cluster still
	// has a quorum (self + 1 of 2).
	h.members[leaderIdx][dropIdx].setUp(false)
	payload, err := statemachine.EncodePut("k1", []byte("v1"))
	require.NoError(t, err)
	ctx1, cancel1 := context.WithTimeout(context.Background(), time.Second)
	defer cancel1()
	_, err = leader.Replicate(ctx1, payload)
	require.NoError(t, err)
	h.members[leaderIdx][dropIdx].setUp(true)

	newMembers := []clusterconfig.Member{
		{ID: h.ids[leaderIdx], Endpoint: h.ids[leaderIdx]},
		{ID: h.ids[keepIdx], Endpoint: h.ids[keepIdx]},
	}
	done := make(chan error, 1)
	go func() { done <- leader.ProposeConfiguration(newMembers) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ProposeConfiguration did not complete")
	}

	// The dropped member must no longer be required for quorum, but the
	// remaining follower now is: a 2-node configuration needs both.
	h.members[leaderIdx][keepIdx].setUp(false)
	payload2, err := statemachine.EncodePut("k2", []byte("v2"))
	require.NoError(t, err)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel2()
	_, err = leader.Replicate(ctx2, payload2)
	require.Error(t, err)
}
