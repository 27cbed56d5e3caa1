package grpc

import (
	"context"

	"raftcluster/raft"
)

// Empty and BoolValue round out the RPC surface for calls that don't
// otherwise need a dedicated request/response shape (Resign takes no
// arguments; its reply is a single bool).
type Empty struct{}

type BoolValue struct {
	Term  uint64
	Value bool
}

const serviceName = "raftcluster.Cluster"

const (
	methodAppendEntries   = "AppendEntries"
	methodVote            = "Vote"
	methodPreVote         = "PreVote"
	methodInstallSnapshot = "InstallSnapshot"
	methodSynchronize     = "Synchronize"
	methodResign          = "Resign"
)

// RaftServer is the handler-side interface the generated-style ServiceDesc
// in server.go dispatches to. A *serverAdapter implements it over a live
// *raft.Controller.
type RaftServer interface {
	AppendEntries(ctx context.Context, args *raft.AppendEntriesArgs) (*raft.Result[raft.AppendEntriesValue], error)
	Vote(ctx context.Context, args *raft.VoteArgs) (*raft.Result[bool], error)
	PreVote(ctx context.Context, args *raft.PreVoteArgs) (*raft.Result[raft.PreVoteOutcome], error)
	InstallSnapshot(ctx context.Context, args *raft.InstallSnapshotArgs) (*raft.Result[bool], error)
	Synchronize(ctx context.Context, args *raft.SynchronizeArgs) (*raft.SynchronizeValue, error)
	Resign(ctx context.Context, args *Empty) (*BoolValue, error)
}
