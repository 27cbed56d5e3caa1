// Package raft implements the transport-independent Raft cluster
// controller: role transitions (Follower/Candidate/Leader/Standby), leader
// election with pre-vote, log replication with commit quorum, snapshot
// installation, leader lease for linearizable reads, configuration
// changes, and failure-detector-driven member eviction.
//
// The package core is adapted from the teacher's raft/raft_core.go,
// raft/election.go and raft/logging.go (package kvstore/raft), generalized
// from a single-file Follower/Candidate/Leader node into the fuller role
// set and RPC surface this spec names (Standby, PreVote, InstallSnapshot,
// Synchronize, leader lease, joint configuration changes).
package raft

import (
	"context"
	"time"

	"raftcluster/clusterconfig"
	"raftcluster/raftlog"
)

// Role is the coarse-grained state a Controller reports through GetState.
// It mirrors the teacher's NodeState enum, with Standby added.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RoleStandby
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	case RoleStandby:
		return "Standby"
	default:
		return "Unknown"
	}
}

// Result is the envelope every peer RPC returns: the responder's term plus
// the RPC-specific value (spec §3, "Result<T>").
type Result[T any] struct {
	Term  uint64
	Value T
}

// PreVoteOutcome is the three-way pre-vote tally unit (spec §4.6).
type PreVoteOutcome int

const (
	PreVoteAccepted PreVoteOutcome = iota
	PreVoteRejectedByFollower
	PreVoteRejectedByLeader
)

// ReplicationState is the per-follower bookkeeping a Controller owns on
// behalf of a Member, mutated only by that member's replicator (spec §3,
// §5 "Shared-resource policy").
type ReplicationState struct {
	NextIndex      uint64
	MatchIndex     uint64
	PrecedingIndex uint64
	PrecedingTerm  uint64
}

// AppendEntriesArgs is the wire-independent AppendEntries request shape
// (spec §4.8 / §6).
type AppendEntriesArgs struct {
	Term           uint64
	LeaderID       string
	PrevLogIndex   uint64
	PrevLogTerm    uint64
	Entries        []raftlog.Entry
	LeaderCommit   uint64
	ProposedConfig *clusterconfig.Configuration
	ApplyConfig    bool
}

// AppendEntriesValue is the AppendEntries response value carried inside
// Result[AppendEntriesValue]. Success distinguishes "entries accepted";
// ConfigMismatch is the distinct reply code the (false,true) configuration
// branch needed (Open Question #1 in SPEC_FULL.md §9) so the leader's
// replicator can tell a log mismatch (back off nextIndex) apart from a
// stale configuration proposal (resend configuration; leave nextIndex
// alone).
type AppendEntriesValue struct {
	Success        bool
	ConfigMismatch bool
}

// LeadershipToken identifies one continuous leadership term, handed to
// Events.MemberUnavailable (spec §4.11) so a collaborator that decides to
// act on an eviction can first confirm this node is still leading the same
// term before doing anything, instead of racing a stale leadership.
type LeadershipToken struct {
	ctrl       *Controller
	term       uint64
	generation uint64
}

// Valid reports whether this token's leadership term is still current.
func (t LeadershipToken) Valid() bool {
	t.ctrl.mu.Lock()
	defer t.ctrl.mu.Unlock()
	ls, ok := t.ctrl.state.(*leaderState)
	return ok && ls.generation == t.generation && ls.term == t.term
}

// VoteArgs is the RequestVote request shape (spec §4.7).
type VoteArgs struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// PreVoteArgs is the PreVote request shape (spec §4.6).
type PreVoteArgs struct {
	NextTerm     uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

// InstallSnapshotArgs is the InstallSnapshot request shape (spec §4.9).
type InstallSnapshotArgs struct {
	Term          uint64
	LeaderID      string
	Snapshot      []byte
	SnapshotIndex uint64
	SnapshotTerm  uint64
}

// SynchronizeArgs/Value implement the read-barrier RPC (spec §4.10).
type SynchronizeArgs struct {
	CommitIndex uint64
}

type SynchronizeValue struct {
	IsLeader       bool
	CommittedIndex uint64
}

// Member is the polymorphic per-peer transport capability set (spec §3,
// "TMember"). A concrete implementation (e.g. transport/grpc.Peer) owns one
// network connection per remote cluster member; the controller owns the
// Member values, but only the member's replicator mutates its
// ReplicationState.
type Member interface {
	ID() string
	Endpoint() string
	IsRemote() bool

	AppendEntries(ctx context.Context, args AppendEntriesArgs) (Result[AppendEntriesValue], error)
	Vote(ctx context.Context, args VoteArgs) (Result[bool], error)
	PreVote(ctx context.Context, args PreVoteArgs) (Result[PreVoteOutcome], error)
	InstallSnapshot(ctx context.Context, args InstallSnapshotArgs) (Result[bool], error)
	Synchronize(ctx context.Context, args SynchronizeArgs) (SynchronizeValue, error)
	Resign(ctx context.Context) (bool, error)
	CancelPendingRequests()

	ReplicationState() *ReplicationState
}

// StateMachine is the external collaborator a committed log entry is
// applied to (spec §4.1 "Leader entry", kept verbatim from the teacher's
// raft_core.go StateMachine interface).
type StateMachine interface {
	Apply(command []byte) (interface{}, error)
	CreateSnapshot() ([]byte, error)
	RestoreSnapshot(snapshot []byte) error
}

// Config is the configuration surface named in spec §6.
type Config struct {
	ElectionTimeoutMin         time.Duration
	ElectionTimeoutMax         time.Duration
	HeartbeatThreshold         float64 // heartbeat period = electionTimeout * threshold, in (0,1]
	ClockDriftBound            float64 // lease duration = electionTimeout / bound, >= 1.0
	Partitioning               bool    // strict: leader never commits without joint quorum
	Standby                    bool    // start in Standby
	AggressiveLeaderStickiness bool
}

// DefaultConfig returns sane defaults matching the literal seed scenario in
// spec §8 (electionTimeout=[150ms,300ms], heartbeatThreshold=0.3,
// clockDriftBound=2.0).
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatThreshold: 0.3,
		ClockDriftBound:    2.0,
	}
}
