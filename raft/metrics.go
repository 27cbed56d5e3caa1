package raft

import (
	"time"

	"github.com/armon/go-metrics"
)

// Per-peer replication metrics, grounded on the hashicorp/raft-derived
// replicator (other_examples' mauri870-raft replication.go), which wires
// the same two calls — MeasureSince for RPC latency, IncrCounter for
// failure counts — around every AppendEntries dispatch.
func recordReplicationLatency(memberID string, start time.Time) {
	metrics.MeasureSince([]string{"raft", "replication", memberID, "rpc"}, start)
}

func recordReplicationFailure(memberID string) {
	metrics.IncrCounter([]string{"raft", "replication", memberID, "failures"}, 1)
}

func recordElectionStarted() {
	metrics.IncrCounter([]string{"raft", "election", "started"}, 1)
}

func recordLeaderTransition() {
	metrics.IncrCounter([]string{"raft", "leader", "transitions"}, 1)
}

func recordCommitLatency(start time.Time) {
	metrics.MeasureSince([]string{"raft", "commit", "latency"}, start)
}
